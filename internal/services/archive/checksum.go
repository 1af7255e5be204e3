package archive

import (
	"bufio"
	"context"
	"crypto/md5"  //nolint:gosec // legacy manifest compatibility
	"crypto/sha1" //nolint:gosec // legacy manifest compatibility
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// checksumErrorMarker is written to a split manifest in place of a hash
// when a single volume could not be read. The archive itself succeeded, so
// the failure degrades to a warning, not a job failure.
const checksumErrorMarker = "ERROR_GENERATING_CHECKSUM"

func newHasher(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil //nolint:gosec
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil //nolint:gosec
	default:
		return nil, fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
}

// ChecksumFile computes the hex digest of a file, checking for context
// cancellation between chunks.
func ChecksumFile(ctx context.Context, algo, path string) (string, error) {
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteChecksumFile writes a single "HASH  filename" sidecar next to the
// archive and returns the sidecar path.
func WriteChecksumFile(ctx context.Context, algo, archivePath string) (string, error) {
	sum, err := ChecksumFile(ctx, algo, archivePath)
	if err != nil {
		return "", err
	}

	sidecar := archivePath + "." + strings.ToLower(algo)
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archivePath))
	if err := os.WriteFile(sidecar, []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("writing checksum file: %w", err)
	}
	return sidecar, nil
}

// VerifyChecksumManifest re-hashes every file named in a checksum manifest
// (single-checksum sidecars are one-line manifests) and returns the list of
// mismatch descriptions. Files are looked up relative to the manifest's
// directory.
func VerifyChecksumManifest(ctx context.Context, algo, manifestPath string) ([]string, error) {
	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("opening checksum manifest: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(manifestPath)
	var mismatches []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		want, name, found := strings.Cut(line, "  ")
		if !found {
			mismatches = append(mismatches, fmt.Sprintf("unparseable manifest line: %q", line))
			continue
		}
		if want == checksumErrorMarker {
			mismatches = append(mismatches, fmt.Sprintf("%s: checksum was never generated", name))
			continue
		}

		got, err := ChecksumFile(ctx, algo, filepath.Join(dir, name))
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if !strings.EqualFold(got, want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: checksum mismatch", name))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksum manifest: %w", err)
	}

	return mismatches, nil
}

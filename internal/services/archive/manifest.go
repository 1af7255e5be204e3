package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
)

// ContentsManifestSuffix is appended to the archive path for the per-file
// contents listing.
const ContentsManifestSuffix = ".contents.manifest"

// WriteContentsManifest writes the CSV-like contents listing
// (CRC,Size,Modified,Attributes,"Path") and returns the manifest path.
func WriteContentsManifest(archivePath string, entries []models.ArchiveEntry) (string, error) {
	path := archivePath + ContentsManifestSuffix

	var b strings.Builder
	b.WriteString("CRC,Size,Modified,Attributes,Path\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s,%d,%s,%s,%q\n", e.CRC, e.Size, e.Modified, e.Attributes, e.Path)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing contents manifest: %w", err)
	}
	return path, nil
}

// WriteSplitManifest hashes every volume file (sorted by name) and writes
// one "HASH  filename" line per volume. A per-volume hash failure writes
// the error marker instead and is reported back as a warning; archiving
// already succeeded at this point.
func WriteSplitManifest(ctx context.Context, algo string, volumes []string) (manifestPath string, warnings []string, err error) {
	if len(volumes) == 0 {
		return "", nil, fmt.Errorf("no volume files to hash")
	}

	sorted := append([]string(nil), volumes...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, vol := range sorted {
		sum, hashErr := ChecksumFile(ctx, algo, vol)
		if hashErr != nil {
			warnings = append(warnings, fmt.Sprintf("checksum for %s failed: %v", filepath.Base(vol), hashErr))
			sum = checksumErrorMarker
		}
		fmt.Fprintf(&b, "%s  %s\n", sum, filepath.Base(vol))
	}

	// <volumebase>.manifest.<algo> sits next to the first volume.
	base := VolumeBase(sorted[0])
	manifestPath = base + ".manifest." + strings.ToLower(algo)
	if err := os.WriteFile(manifestPath, []byte(b.String()), 0o644); err != nil {
		return "", warnings, fmt.Errorf("writing split manifest: %w", err)
	}
	return manifestPath, warnings, nil
}

// VolumeBase strips the trailing numeric volume suffix: "x.7z.001" -> "x.7z".
func VolumeBase(volumePath string) string {
	ext := filepath.Ext(volumePath)
	if len(ext) >= 4 && isDigits(ext[1:]) {
		return strings.TrimSuffix(volumePath, ext)
	}
	return volumePath
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

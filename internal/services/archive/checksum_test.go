package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestChecksumFile_KnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.bin", []byte("abc"))

	sum, err := ChecksumFile(context.Background(), "sha256", path)
	require.NoError(t, err)

	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)
}

func TestChecksumFile_UnsupportedAlgorithm(t *testing.T) {
	_, err := ChecksumFile(context.Background(), "crc32", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported checksum algorithm")
}

func TestChecksumFile_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "data.bin", []byte("abc"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ChecksumFile(ctx, "sha256", path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteChecksumFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	archive := writeFile(t, dir, "docs_2026-08-31.7z", []byte("archive payload"))

	sidecar, err := WriteChecksumFile(context.Background(), "sha256", archive)
	require.NoError(t, err)
	assert.Equal(t, archive+".sha256", sidecar)

	mismatches, err := VerifyChecksumManifest(context.Background(), "sha256", sidecar)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestVerifyChecksumManifest_DetectsSingleByteMutation(t *testing.T) {
	dir := t.TempDir()
	archive := writeFile(t, dir, "docs.7z", []byte("archive payload"))

	sidecar, err := WriteChecksumFile(context.Background(), "sha256", archive)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(archive, []byte("archive payloaD"), 0o644))

	mismatches, err := VerifyChecksumManifest(context.Background(), "sha256", sidecar)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Contains(t, mismatches[0], "checksum mismatch")
}

func TestVerifyChecksumManifest_ErrorMarkerAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	manifest := writeFile(t, dir, "vols.manifest.sha256", []byte(
		"ERROR_GENERATING_CHECKSUM  docs.7z.001\n"+
			"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad  docs.7z.002\n"+
			"not-a-manifest-line\n"))

	mismatches, err := VerifyChecksumManifest(context.Background(), "sha256", manifest)
	require.NoError(t, err)

	require.Len(t, mismatches, 3)
	assert.Contains(t, mismatches[0], "never generated")
	assert.Contains(t, mismatches[1], "docs.7z.002")
	assert.Contains(t, mismatches[2], "unparseable")
}

func TestVerifyChecksumManifest_CaseInsensitiveHashCompare(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data.bin", []byte("abc"))
	manifest := writeFile(t, dir, "data.bin.sha256",
		[]byte("BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD  data.bin\n"))

	mismatches, err := VerifyChecksumManifest(context.Background(), "sha256", manifest)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

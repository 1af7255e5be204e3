package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/services/archive"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	transferFunc func(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome
	calls        []string
}

func (m *mockProvider) Transfer(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome {
	m.calls = append(m.calls, filepath.Base(localPath))
	if m.transferFunc != nil {
		return m.transferFunc(ctx, localPath, target, meta)
	}
	return models.TransferOutcome{Success: true, TransferSize: 10}
}

type mockWaker struct {
	result *models.WakeResult
	calls  int
}

func (m *mockWaker) Wake(ctx context.Context, cfg models.WakeConfig) *models.WakeResult {
	m.calls++
	if m.result != nil {
		return m.result
	}
	return &models.WakeResult{PacketSent: true, TargetReady: true}
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func stage(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
		paths = append(paths, path)
	}
	return dir, paths
}

func stagedEff(dir string, targets ...models.TargetConfig) *models.EffectiveJobConfig {
	return &models.EffectiveJobConfig{
		JobName:           "documents",
		ArchiveBaseName:   "docs",
		DestinationDir:    dir,
		ChecksumAlgorithm: "sha256",
		ResolvedTargets:   targets,
	}
}

func uncTarget(name string) models.TargetConfig {
	return models.TargetConfig{InstanceName: name, Type: "UNC", UNCPath: `\\host\share`}
}

func newTestService(provider Provider) (*Impl, *mockWaker) {
	registry := NewRegistry()
	registry.Register("UNC", provider)
	waker := &mockWaker{}
	return NewWithDeps(testLogger(), registry, waker), waker
}

func TestTransfer_SingleTargetWithSidecars(t *testing.T) {
	dir, _ := stage(t,
		"docs_2026-08-31.7z",
		"docs_2026-08-31.7z"+archive.ContentsManifestSuffix,
		"docs_2026-08-31.7z.sha256",
		"docs_2026-08-31.7z"+archive.PinMarkerSuffix,
		"unrelated.txt",
	)
	eff := stagedEff(dir, uncTarget("nas"))
	outcome := &models.ArchiveOutcome{
		ArchivePath: filepath.Join(dir, "docs_2026-08-31.7z"),
		FileName:    "docs_2026-08-31.7z",
	}

	provider := &mockProvider{}
	svc, _ := newTestService(provider)

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.NoError(t, err)

	assert.True(t, summary.AllSucceeded)
	assert.Len(t, summary.StagedFiles, 4)
	assert.NotContains(t, provider.calls, "unrelated.txt")

	require.Len(t, summary.Targets, 1)
	assert.Equal(t, TargetSuccess, summary.Targets[0].Status)
	assert.Equal(t, 4, summary.Targets[0].FilesTransferred)
	assert.Equal(t, int64(40), summary.Targets[0].BytesTransferred)
	assert.False(t, summary.LocalDeleted)
}

func TestTransfer_SplitVolumesDiscovered(t *testing.T) {
	dir, _ := stage(t,
		"docs_2026-08-31.7z.001",
		"docs_2026-08-31.7z.002",
		"docs_2026-08-31.7z.manifest.sha256",
	)
	eff := stagedEff(dir, uncTarget("nas"))
	eff.SplitVolumeSize = "1g"
	outcome := &models.ArchiveOutcome{
		ArchivePath: filepath.Join(dir, "docs_2026-08-31.7z.001"),
		FileName:    "docs_2026-08-31.7z",
	}

	provider := &mockProvider{}
	svc, _ := newTestService(provider)

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.NoError(t, err)

	assert.True(t, summary.AllSucceeded)
	assert.Equal(t, []string{
		"docs_2026-08-31.7z.001",
		"docs_2026-08-31.7z.002",
		"docs_2026-08-31.7z.manifest.sha256",
	}, provider.calls)
}

func TestTransfer_FirstTargetFailureSkipsRemaining(t *testing.T) {
	dir, _ := stage(t, "docs_2026-08-31.7z")
	eff := stagedEff(dir, uncTarget("nas"), uncTarget("offsite"))
	eff.DeleteLocalArchiveAfterSuccessfulTransfer = true
	outcome := &models.ArchiveOutcome{
		ArchivePath: filepath.Join(dir, "docs_2026-08-31.7z"),
		FileName:    "docs_2026-08-31.7z",
	}

	provider := &mockProvider{
		transferFunc: func(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome {
			return models.TransferOutcome{Success: false, ErrorMessage: "share unreachable"}
		},
	}
	svc, _ := newTestService(provider)

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nas")

	require.Len(t, summary.Targets, 2)
	assert.Equal(t, TargetFailed, summary.Targets[0].Status)
	assert.Equal(t, TargetSkipped, summary.Targets[1].Status)
	// The failing provider was only ever asked about the first target.
	assert.Len(t, provider.calls, 1)

	assert.False(t, summary.AllSucceeded)
	assert.False(t, summary.LocalDeleted)
	assert.FileExists(t, outcome.ArchivePath)
}

func TestTransfer_NoStagedFiles(t *testing.T) {
	dir := t.TempDir()
	eff := stagedEff(dir, uncTarget("nas"), uncTarget("offsite"))
	outcome := &models.ArchiveOutcome{
		ArchivePath: filepath.Join(dir, "docs_2026-08-31.7z"),
		FileName:    "docs_2026-08-31.7z",
	}

	svc, _ := newTestService(&mockProvider{})

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no staged files")

	require.Len(t, summary.Targets, 2)
	for _, target := range summary.Targets {
		assert.Equal(t, TargetSkipped, target.Status)
	}
}

func TestTransfer_DeletesLocalAfterFullSuccess(t *testing.T) {
	dir, paths := stage(t, "docs_2026-08-31.7z", "docs_2026-08-31.7z.sha256")
	eff := stagedEff(dir, uncTarget("nas"), uncTarget("offsite"))
	eff.DeleteLocalArchiveAfterSuccessfulTransfer = true
	outcome := &models.ArchiveOutcome{
		ArchivePath: paths[0],
		FileName:    "docs_2026-08-31.7z",
	}

	svc, _ := newTestService(&mockProvider{})

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.NoError(t, err)

	assert.True(t, summary.AllSucceeded)
	assert.True(t, summary.LocalDeleted)
	for _, p := range paths {
		assert.NoFileExists(t, p)
	}
}

func TestTransfer_UnknownTargetTypeFails(t *testing.T) {
	dir, paths := stage(t, "docs_2026-08-31.7z")
	eff := stagedEff(dir, models.TargetConfig{InstanceName: "tape", Type: "FTP"})
	outcome := &models.ArchiveOutcome{ArchivePath: paths[0], FileName: "docs_2026-08-31.7z"}

	svc, _ := newTestService(&mockProvider{})

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.Error(t, err)

	require.Len(t, summary.Targets, 1)
	assert.Equal(t, TargetFailed, summary.Targets[0].Status)
	assert.Contains(t, summary.Targets[0].ErrorMessage, "no transfer provider")
}

func TestTransfer_WakeFailureIsAdvisory(t *testing.T) {
	dir, paths := stage(t, "docs_2026-08-31.7z")
	target := uncTarget("nas")
	target.WakeOnLAN = &models.WakeConfig{MACAddress: "aa:bb:cc:dd:ee:ff"}
	eff := stagedEff(dir, target)
	outcome := &models.ArchiveOutcome{ArchivePath: paths[0], FileName: "docs_2026-08-31.7z"}

	registry := NewRegistry()
	registry.Register("UNC", &mockProvider{})
	waker := &mockWaker{result: &models.WakeResult{Error: context.DeadlineExceeded}}
	svc := NewWithDeps(testLogger(), registry, waker)

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, waker.calls)
	assert.True(t, summary.AllSucceeded)
}

func TestTransfer_FirstFileFailureAbortsTarget(t *testing.T) {
	dir, _ := stage(t, "docs_2026-08-31.7z", "docs_2026-08-31.7z.sha256")
	eff := stagedEff(dir, uncTarget("nas"))
	outcome := &models.ArchiveOutcome{
		ArchivePath: filepath.Join(dir, "docs_2026-08-31.7z"),
		FileName:    "docs_2026-08-31.7z",
	}

	provider := &mockProvider{
		transferFunc: func(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome {
			if filepath.Ext(localPath) == ".sha256" {
				return models.TransferOutcome{Success: false, ErrorMessage: "disk full"}
			}
			return models.TransferOutcome{Success: true, TransferSize: 10}
		},
	}
	svc, _ := newTestService(provider)

	summary, err := svc.Transfer(context.Background(), eff, outcome, "run-1")
	require.Error(t, err)

	require.Len(t, summary.Targets, 1)
	assert.Equal(t, TargetFailed, summary.Targets[0].Status)
	assert.Equal(t, 1, summary.Targets[0].FilesTransferred)
	assert.Contains(t, summary.Targets[0].ErrorMessage, "disk full")
}

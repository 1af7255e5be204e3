package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/resolve"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type mockPathSvc struct {
	disposition models.PathDisposition
	err         error
}

func (m *mockPathSvc) Validate(eff *models.EffectiveJobConfig) (models.PathDisposition, error) {
	return m.disposition, m.err
}

type mockSourceSvc struct {
	res      *models.SourceResolution
	err      error
	resolves int
	cleanups int
}

func (m *mockSourceSvc) Resolve(ctx context.Context, eff *models.EffectiveJobConfig, providers map[string]models.SnapshotProviderConfig) (*models.SourceResolution, error) {
	m.resolves++
	return m.res, m.err
}

func (m *mockSourceSvc) Cleanup(ctx context.Context, res *models.SourceResolution) {
	m.cleanups++
}

type mockArchiveSvc struct {
	processFunc func(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error)
	calls       int
	sources     []string
	password    string
}

func (m *mockArchiveSvc) Process(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error) {
	m.calls++
	m.sources = sources
	m.password = password
	if m.processFunc != nil {
		return m.processFunc(ctx, eff, sources, password)
	}
	return &models.ArchiveOutcome{
		Status:      models.StatusSuccess,
		ArchivePath: `D:\Backups\docs_2026-08-31.7z`,
		FileName:    "docs_2026-08-31.7z",
		SizeBytes:   4096,
		Checksum:    "abc123",
		Tested:      true,
		TestPassed:  true,
		Verified:    true,
	}, nil
}

type mockTransferSvc struct {
	summary *models.TransferSummary
	err     error
	calls   int
}

func (m *mockTransferSvc) Transfer(ctx context.Context, eff *models.EffectiveJobConfig, outcome *models.ArchiveOutcome, runID string) (*models.TransferSummary, error) {
	m.calls++
	if m.summary != nil || m.err != nil {
		return m.summary, m.err
	}
	return &models.TransferSummary{
		AllSucceeded: true,
		Targets:      []models.TargetTransferReport{{TargetName: "nas", Status: "Success"}},
	}, nil
}

type mockNotifySvc struct {
	reports []*models.JobReport
	cfgs    []models.EffectiveNotification
}

func (m *mockNotifySvc) SendReport(ctx context.Context, cfg models.EffectiveNotification, report *models.JobReport) error {
	m.cfgs = append(m.cfgs, cfg)
	m.reports = append(m.reports, report)
	return nil
}

type execCall struct {
	name string
	args []string
}

type mockExecutor struct {
	err   error
	calls []execCall
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, execCall{name: name, args: args})
	if m.err != nil {
		return []byte("command output"), m.err
	}
	return nil, nil
}

// deps bundles the mocks so tests can inspect them after a run.
type deps struct {
	path     *mockPathSvc
	source   *mockSourceSvc
	archive  *mockArchiveSvc
	transfer *mockTransferSvc
	notify   *mockNotifySvc
	executor *mockExecutor
	getenv   func(string) string
}

func newTestRunner(d *deps) *Impl {
	if d.getenv == nil {
		d.getenv = func(string) string { return "" }
	}
	return NewWithServices(testLogger(), resolve.NewResolver(testLogger()),
		d.path, d.source, d.archive, d.transfer, d.notify, d.executor, d.getenv)
}

func defaultDeps() *deps {
	return &deps{
		path:     &mockPathSvc{disposition: models.DispositionProceed},
		source:   &mockSourceSvc{},
		archive:  &mockArchiveSvc{},
		transfer: &mockTransferSvc{},
		notify:   &mockNotifySvc{},
		executor: &mockExecutor{},
	}
}

func runnerDoc() *models.Document {
	return &models.Document{
		Global: models.GlobalSettings{
			SevenZipPath:             `C:\7-Zip\7z.exe`,
			DefaultDestinationDir:    `D:\Backups`,
			DefaultArchiveType:       "7z",
			DefaultArchiveExtension:  "7z",
			DefaultArchiveDateFormat: "yyyy-MM-dd",
			DefaultCompressionLevel:  "-mx=5",
			DefaultCompressionMethod: "-m0=LZMA2",
			DefaultDictionarySize:    "-md=64m",
			DefaultWordSize:          "-mfb=64",
			DefaultSolidBlockSize:    "-ms=4g",
			DefaultThreadCount:       ptr(4),
			DefaultSevenZipPriority:  "BelowNormal",
			DefaultTempDir:           `D:\Temp`,
			DefaultChecksumAlgorithm: "SHA256",
		},
		BackupLocations: map[string]models.JobConfig{
			"documents": {SourcePaths: []string{`C:\Users\Data\Documents`}},
			"media":     {SourcePaths: []string{`D:\Media`}},
		},
		BackupTargets: map[string]models.TargetConfig{
			"nas": {Type: "UNC", UNCPath: `\\nas\backups`},
		},
	}
}

func singleJobPlan(names ...string) *resolve.JobPlan {
	return &resolve.JobPlan{JobNames: names, StopSetOnError: true}
}

func TestRunPlan_HappyPath(t *testing.T) {
	d := defaultDeps()
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), runnerDoc(), singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, models.StatusSuccess, report.Status)
	assert.Empty(t, report.FailedStage)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, `D:\Backups\docs_2026-08-31.7z`, report.ArchivePath)
	assert.Equal(t, int64(4096), report.ArchiveSizeBytes)
	assert.True(t, report.ArchiveTested)
	assert.True(t, report.ArchiveVerified)

	assert.Equal(t, 1, d.archive.calls)
	// No targets configured, so the transfer stage never runs.
	assert.Zero(t, d.transfer.calls)
	assert.Len(t, d.notify.reports, 1)
}

func TestRunPlan_TransferRunsWhenTargetsResolved(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.TargetNames = []string{"nas"}
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.transfer.summary = &models.TransferSummary{
		AllSucceeded: true,
		LocalDeleted: true,
		Targets:      []models.TargetTransferReport{{TargetName: "nas", Status: "Success"}},
	}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, 1, d.transfer.calls)
	assert.Equal(t, 1, reports[0].TargetCount)
	require.Len(t, reports[0].Transfers, 1)
	assert.Equal(t, "nas", reports[0].Transfers[0].TargetName)
	assert.True(t, reports[0].LocalDeleted)
}

func TestRunPlan_ResolutionFailure(t *testing.T) {
	doc := runnerDoc()
	doc.Global.DefaultCompressionLevel = ""

	d := defaultDeps()
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, models.StatusFailure, reports[0].Status)
	assert.Equal(t, StageResolve, reports[0].FailedStage)
	assert.Zero(t, d.archive.calls)
	// Without an effective config there is no notification target.
	assert.Empty(t, d.notify.reports)
}

func TestRunPlan_MissingSourceSkipsJob(t *testing.T) {
	d := defaultDeps()
	d.path = &mockPathSvc{disposition: models.DispositionSkipJob, err: errors.New(`C:\Users\Data\Documents does not exist`)}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), runnerDoc(), singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	require.Len(t, reports, 1)
	assert.Equal(t, models.StatusWarnings, reports[0].Status)
	require.Len(t, reports[0].Warnings, 1)
	assert.Contains(t, reports[0].Warnings[0], "job skipped")
	assert.Zero(t, d.archive.calls)
	// A skipped job still gets its notification.
	assert.Len(t, d.notify.reports, 1)
}

func TestRunPlan_MissingSourceFailsJob(t *testing.T) {
	d := defaultDeps()
	d.path = &mockPathSvc{disposition: models.DispositionFailJob, err: errors.New(`C:\Users\Data\Documents does not exist`)}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), runnerDoc(), singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StagePathCheck, reports[0].FailedStage)
	assert.Zero(t, d.archive.calls)
}

func TestRunPlan_MissingPasswordSecret(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.PasswordSecretName = ptr("BACKUP_PASSWORD")
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StagePassword, reports[0].FailedStage)
	assert.Contains(t, reports[0].Error, "BACKUP_PASSWORD")
	assert.Zero(t, d.archive.calls)
}

func TestRunPlan_PasswordReachesArchiver(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.PasswordSecretName = ptr("BACKUP_PASSWORD")
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.getenv = func(key string) string {
		if key == "BACKUP_PASSWORD" {
			return "s3cret"
		}
		return ""
	}
	svc := newTestRunner(d)

	_, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "s3cret", d.archive.password)
}

func TestRunPlan_PreHookFailureFailsJob(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.PreBackupScript = ptr(`C:\scripts\stop-services.cmd`)
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.executor = &mockExecutor{err: errors.New("exit status 1")}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StagePreHook, reports[0].FailedStage)
	assert.Zero(t, d.archive.calls)
}

func TestRunPlan_PostHookFailureIsWarning(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.PostBackupScript = ptr(`C:\scripts\start-services.cmd`)
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.executor = &mockExecutor{err: errors.New("exit status 1")}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusWarnings, reports[0].Status)
	assert.Empty(t, reports[0].FailedStage)
	require.Len(t, reports[0].Warnings, 1)
	assert.Contains(t, reports[0].Warnings[0], "post-backup script failed")
}

func TestRunPlan_VSSSourcesFeedTheArchiver(t *testing.T) {
	doc := runnerDoc()
	doc.Global.DefaultUseVSS = ptr(true)
	doc.Global.VSSPollingTimeoutSeconds = ptr(60)
	doc.Global.VSSPollingIntervalSeconds = ptr(2)

	d := defaultDeps()
	d.source.res = &models.SourceResolution{
		SourcePaths: []string{`C:\shadow\HarddiskVolumeShadowCopy1\Users\Data\Documents`},
		Snapshot:    &models.SnapshotSession{Success: true, SessionID: "sess-42"},
	}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, 1, d.source.resolves)
	assert.Equal(t, 1, d.source.cleanups)
	assert.Equal(t, d.source.res.SourcePaths, d.archive.sources)
	assert.Equal(t, "sess-42", reports[0].SnapshotSessionID)
}

func TestRunPlan_SourceFailureCleansUpPartialState(t *testing.T) {
	doc := runnerDoc()
	doc.Global.DefaultUseVSS = ptr(true)
	doc.Global.VSSPollingTimeoutSeconds = ptr(60)
	doc.Global.VSSPollingIntervalSeconds = ptr(2)

	d := defaultDeps()
	// The shape source.Resolve returns when shadow creation fails partway:
	// no usable paths, but a VSS handle the runner must still release.
	d.source.res = &models.SourceResolution{VSSPaths: models.VSSPathsInUse{}}
	d.source.err = errors.New("shadow copy did not become ready")
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StageSource, reports[0].FailedStage)
	assert.Equal(t, 1, d.source.cleanups)
	assert.Zero(t, d.archive.calls)
}

func TestRunPlan_ArchiveFailureStopsBeforeTransfer(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.TargetNames = []string{"nas"}
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.archive.processFunc = func(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error) {
		return &models.ArchiveOutcome{Status: models.StatusFailure, AttemptsMade: 3}, nil
	}
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StageArchive, reports[0].FailedStage)
	assert.Equal(t, 3, reports[0].AttemptsMade)
	assert.Zero(t, d.transfer.calls)
}

func TestRunPlan_TransferFailure(t *testing.T) {
	doc := runnerDoc()
	job := doc.BackupLocations["documents"]
	job.TargetNames = []string{"nas"}
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	d.transfer.summary = &models.TransferSummary{
		Targets: []models.TargetTransferReport{{TargetName: "nas", Status: "Failed", ErrorMessage: "share unreachable"}},
	}
	d.transfer.err = errors.New("transfer to target nas failed: share unreachable")
	svc := newTestRunner(d)

	reports, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.Error(t, err)

	assert.Equal(t, StageTransfer, reports[0].FailedStage)
	// The partial summary still lands in the report.
	require.Len(t, reports[0].Transfers, 1)
	assert.Equal(t, "Failed", reports[0].Transfers[0].Status)
}

func TestRunPlan_StopSetOnError(t *testing.T) {
	d := defaultDeps()
	d.archive.processFunc = func(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error) {
		return &models.ArchiveOutcome{Status: models.StatusFailure}, nil
	}
	svc := newTestRunner(d)

	plan := &resolve.JobPlan{JobNames: []string{"documents", "media"}, SetName: "nightly", StopSetOnError: true}
	reports, err := svc.RunPlan(context.Background(), runnerDoc(), plan, models.CLIOverrides{})
	require.Error(t, err)

	assert.Len(t, reports, 1)
	assert.Equal(t, 1, d.archive.calls)
}

func TestRunPlan_ContinueSetOnError(t *testing.T) {
	d := defaultDeps()
	d.archive.processFunc = func(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error) {
		if eff.JobName == "documents" {
			return &models.ArchiveOutcome{Status: models.StatusFailure}, nil
		}
		return &models.ArchiveOutcome{Status: models.StatusSuccess, FileName: "media_2026-08-31.7z"}, nil
	}
	svc := newTestRunner(d)

	plan := &resolve.JobPlan{JobNames: []string{"documents", "media"}, SetName: "nightly", StopSetOnError: false}
	reports, err := svc.RunPlan(context.Background(), runnerDoc(), plan, models.CLIOverrides{})

	// The first failure is still surfaced after the whole set ran.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "documents")

	require.Len(t, reports, 2)
	assert.Equal(t, models.StatusFailure, reports[0].Status)
	assert.Equal(t, models.StatusSuccess, reports[1].Status)
}

func TestRunPlan_PostRunActionRunsOnceAfterSet(t *testing.T) {
	d := defaultDeps()
	svc := newTestRunner(d)

	plan := &resolve.JobPlan{
		JobNames:         []string{"documents", "media"},
		SetName:          "nightly",
		StopSetOnError:   true,
		SetPostRunAction: &models.PostRunAction{Action: ptr("Custom"), Command: ptr("wakeup-nas")},
	}
	_, err := svc.RunPlan(context.Background(), runnerDoc(), plan, models.CLIOverrides{})
	require.NoError(t, err)

	require.Len(t, d.executor.calls, 1)
	assert.Equal(t, "wakeup-nas", d.executor.calls[0].name)
}

func TestRunPlan_DryRunSkipsSideEffects(t *testing.T) {
	doc := runnerDoc()
	doc.Global.DefaultUseVSS = ptr(true)
	doc.Global.VSSPollingTimeoutSeconds = ptr(60)
	doc.Global.VSSPollingIntervalSeconds = ptr(2)
	job := doc.BackupLocations["documents"]
	job.TargetNames = []string{"nas"}
	job.PreBackupScript = ptr(`C:\scripts\stop-services.cmd`)
	doc.BackupLocations["documents"] = job

	d := defaultDeps()
	svc := newTestRunner(d)

	plan := singleJobPlan("documents")
	plan.SetPostRunAction = &models.PostRunAction{Action: ptr("Custom"), Command: ptr("wakeup-nas")}

	_, err := svc.RunPlan(context.Background(), doc, plan, models.CLIOverrides{DryRun: true})
	require.NoError(t, err)

	// The archive service is still consulted (it has its own dry-run path),
	// but hooks, snapshots, transfer and the post-run action never run.
	assert.Equal(t, 1, d.archive.calls)
	assert.Zero(t, d.source.resolves)
	assert.Zero(t, d.transfer.calls)
	assert.Empty(t, d.executor.calls)
}

func TestRunPlan_LogPruningKeepsNewest(t *testing.T) {
	doc := runnerDoc()
	logDir := t.TempDir()
	doc.Global.LogDir = logDir
	doc.Global.LogRetentionCount = ptr(2)

	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"run-1.log", "run-2.log", "run-3.log", "run-4.log"} {
		path := filepath.Join(logDir, name)
		require.NoError(t, os.WriteFile(path, []byte("log"), 0o644))
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(path, ts, ts))
	}

	d := defaultDeps()
	svc := newTestRunner(d)

	_, err := svc.RunPlan(context.Background(), doc, singleJobPlan("documents"), models.CLIOverrides{})
	require.NoError(t, err)

	remaining, err := filepath.Glob(filepath.Join(logDir, "*.log"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(logDir, "run-3.log"),
		filepath.Join(logDir, "run-4.log"),
	}, remaining)
}

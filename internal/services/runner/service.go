// Package runner orchestrates the per-job backup pipeline and the set loop
// around it.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/resolve"
	"github.com/hfischer/go7zbackup/internal/services/archive"
	"github.com/hfischer/go7zbackup/internal/services/notify"
	"github.com/hfischer/go7zbackup/internal/services/pathcheck"
	"github.com/hfischer/go7zbackup/internal/services/snapshot"
	"github.com/hfischer/go7zbackup/internal/services/source"
	"github.com/hfischer/go7zbackup/internal/services/transfer"
	"github.com/hfischer/go7zbackup/internal/services/vss"
	"github.com/rs/zerolog"
)

// Pipeline stage names as they appear in FailedStage.
const (
	StageResolve   = "resolve"
	StagePathCheck = "pathcheck"
	StagePassword  = "password"
	StagePreHook   = "pre-hook"
	StageSource    = "source"
	StageArchive   = "archive"
	StageTransfer  = "transfer"
)

// Service defines the interface for executing a resolved job plan.
type Service interface {
	RunPlan(ctx context.Context, doc *models.Document, plan *resolve.JobPlan, cli models.CLIOverrides) ([]*models.JobReport, error)
}

// CommandExecutor runs hook scripts and post-run commands; mockable in
// tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	resolver    *resolve.Resolver
	pathSvc     pathcheck.Service
	sourceSvc   source.Service
	archiveSvc  func(eff *models.EffectiveJobConfig) archive.Service
	transferSvc transfer.Service
	notifySvc   notify.Service
	executor    CommandExecutor
	getenv      func(string) string
	logger      zerolog.Logger
}

// New creates a runner wired with the real service implementations. The
// archive service is built per job because the 7-Zip binary path is part of
// the effective configuration.
func New(logger zerolog.Logger, executor vss.CommandExecutor) *Impl {
	return &Impl{
		resolver: resolve.NewResolver(logger),
		pathSvc:  pathcheck.New(logger),
		sourceSvc: source.New(logger, vss.New(logger, executor),
			snapshot.NewRegistry(logger, executor)),
		archiveSvc:  func(eff *models.EffectiveJobConfig) archive.Service { return newArchiveService(logger, eff) },
		transferSvc: transfer.New(logger),
		notifySvc:   notify.New(logger),
		executor:    &defaultExecutor{},
		getenv:      os.Getenv,
		logger:      logger,
	}
}

// NewWithServices creates a runner with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	resolver *resolve.Resolver,
	pathSvc pathcheck.Service,
	sourceSvc source.Service,
	archiveSvc archive.Service,
	transferSvc transfer.Service,
	notifySvc notify.Service,
	executor CommandExecutor,
	getenv func(string) string,
) *Impl {
	return &Impl{
		resolver:    resolver,
		pathSvc:     pathSvc,
		sourceSvc:   sourceSvc,
		archiveSvc:  func(*models.EffectiveJobConfig) archive.Service { return archiveSvc },
		transferSvc: transferSvc,
		notifySvc:   notifySvc,
		executor:    executor,
		getenv:      getenv,
		logger:      logger,
	}
}

// RunPlan executes every job in the plan in order. A FAILURE stops the set
// when the set's error policy says so; skipped and degraded jobs never do.
// The post-run action of the last executed job runs once, after the loop.
func (s *Impl) RunPlan(ctx context.Context, doc *models.Document, plan *resolve.JobPlan, cli models.CLIOverrides) ([]*models.JobReport, error) {
	var reports []*models.JobReport
	var lastAction *models.EffectivePostRunAction
	var firstErr error

	for _, jobName := range plan.JobNames {
		report, eff := s.runJob(ctx, doc, plan, jobName, cli)
		reports = append(reports, report)
		if eff != nil {
			action := eff.PostRunAction
			lastAction = &action
			s.pruneLogs(doc.Global.LogDir, eff.LogRetentionCount)
		}

		if report.Status == models.StatusFailure {
			if firstErr == nil {
				firstErr = fmt.Errorf("job %s failed in stage %s: %s",
					report.JobName, report.FailedStage, report.Error)
			}
			if plan.StopSetOnError {
				s.logger.Error().
					Str("job", jobName).
					Str("set", plan.SetName).
					Msg("job failed, stopping set")
				break
			}
			s.logger.Warn().
				Str("job", jobName).
				Str("set", plan.SetName).
				Msg("job failed, continuing set per error policy")
		}
	}

	if lastAction != nil && !cli.DryRun {
		s.executePostRunAction(ctx, plan, *lastAction)
	}

	return reports, firstErr
}

// runJob runs the full pipeline for one job. It always returns a report;
// the effective config is nil only when resolution itself failed.
//
//nolint:gocognit,gocyclo // the pipeline is a fixed linear sequence of stages
func (s *Impl) runJob(ctx context.Context, doc *models.Document, plan *resolve.JobPlan, jobName string, cli models.CLIOverrides) (*models.JobReport, *models.EffectiveJobConfig) {
	report := &models.JobReport{
		JobName:   jobName,
		RunID:     uuid.NewString(),
		StartTime: time.Now(),
		Status:    models.StatusSuccess,
	}
	defer func() { report.EndTime = time.Now() }()

	s.logger.Info().Str("job", jobName).Str("run_id", report.RunID).Msg("starting job")

	eff, patch, err := s.resolver.Resolve(jobName, doc, plan.Set, cli)
	if err != nil {
		s.fail(report, StageResolve, err)
		return report, nil
	}
	patch.Apply(report)
	report.SourcePaths = eff.SourcePaths
	applySetPostRunAction(eff, plan.SetPostRunAction)

	defer s.notify(ctx, eff, report)

	disposition, err := s.pathSvc.Validate(eff)
	switch disposition {
	case models.DispositionSkipJob:
		report.Warn(fmt.Sprintf("job skipped: %v", err))
		s.logger.Warn().Str("job", jobName).Err(err).Msg("source path missing, skipping job")
		return report, eff
	case models.DispositionFailJob:
		s.fail(report, StagePathCheck, err)
		return report, eff
	case models.DispositionProceed:
	}

	password, err := s.lookupPassword(eff)
	if err != nil {
		s.fail(report, StagePassword, err)
		return report, eff
	}

	if eff.PreBackupScript != "" && !eff.DryRun {
		if err := s.runHook(ctx, eff.PreBackupScript); err != nil {
			s.fail(report, StagePreHook, err)
			return report, eff
		}
	}

	sources := eff.SourcePaths
	if eff.UseVSS && !eff.DryRun {
		res, err := s.sourceSvc.Resolve(ctx, eff, doc.SnapshotProviders)
		if res != nil {
			defer s.sourceSvc.Cleanup(ctx, res)
			if res.Snapshot != nil {
				report.SnapshotSessionID = res.Snapshot.SessionID
			}
		}
		if err != nil {
			s.fail(report, StageSource, err)
			return report, eff
		}
		sources = res.SourcePaths
	}

	outcome, archiveErr := s.archiveSvc(eff).Process(ctx, eff, sources, password)
	if outcome != nil {
		report.Status = report.Status.Worse(outcome.Status)
		report.Warnings = append(report.Warnings, outcome.Warnings...)
		report.ArchivePath = outcome.ArchivePath
		report.ArchiveSizeBytes = outcome.SizeBytes
		report.Checksum = outcome.Checksum
		report.AttemptsMade = outcome.AttemptsMade
		report.ArchiveTested = outcome.Tested
		report.ArchiveVerified = outcome.Verified
		report.Pinned = outcome.Pinned
	}
	if archiveErr != nil || report.Status == models.StatusFailure {
		if archiveErr == nil {
			archiveErr = fmt.Errorf("archive stage finished with status FAILURE")
		}
		s.fail(report, StageArchive, archiveErr)
		return report, eff
	}

	if len(eff.ResolvedTargets) > 0 && !eff.DryRun {
		summary, err := s.transferSvc.Transfer(ctx, eff, outcome, report.RunID)
		if summary != nil {
			report.Transfers = summary.Targets
			report.LocalDeleted = summary.LocalDeleted
		}
		if err != nil {
			s.fail(report, StageTransfer, err)
			return report, eff
		}
	}

	if eff.PostBackupScript != "" && !eff.DryRun {
		if err := s.runHook(ctx, eff.PostBackupScript); err != nil {
			report.Warn(fmt.Sprintf("post-backup script failed: %v", err))
		}
	}

	s.logger.Info().
		Str("job", jobName).
		Str("status", string(report.Status)).
		Dur("duration", time.Since(report.StartTime)).
		Msg("job finished")

	return report, eff
}

func (s *Impl) fail(report *models.JobReport, stage string, err error) {
	report.Status = models.StatusFailure
	report.FailedStage = stage
	report.Error = err.Error()
	s.logger.Error().Str("job", report.JobName).Str("stage", stage).Err(err).Msg("job failed")
}

// lookupPassword resolves the archive password from the environment variable
// named by PasswordSecretName. Never read from configuration files directly.
func (s *Impl) lookupPassword(eff *models.EffectiveJobConfig) (string, error) {
	if eff.PasswordSecretName == "" {
		return "", nil
	}
	password := s.getenv(eff.PasswordSecretName)
	if password == "" {
		return "", fmt.Errorf("password secret %s is not set in the environment", eff.PasswordSecretName)
	}
	return password, nil
}

func (s *Impl) runHook(ctx context.Context, script string) error {
	s.logger.Info().Str("script", script).Msg("running hook script")
	output, err := s.executor.Execute(ctx, script)
	if err != nil {
		return fmt.Errorf("hook script %s: %w (output: %s)", script, err, string(output))
	}
	return nil
}

func (s *Impl) notify(ctx context.Context, eff *models.EffectiveJobConfig, report *models.JobReport) {
	if report.EndTime.IsZero() {
		report.EndTime = time.Now()
	}
	if err := s.notifySvc.SendReport(ctx, eff.Notification, report); err != nil {
		s.logger.Warn().Err(err).Str("job", report.JobName).Msg("notification delivery failed")
	}
}

// applySetPostRunAction overlays the set-level action onto the job-level
// resolved one, sub-field by sub-field.
func applySetPostRunAction(eff *models.EffectiveJobConfig, overlay *models.PostRunAction) {
	if overlay == nil {
		return
	}
	if overlay.Action != nil {
		eff.PostRunAction.Action = *overlay.Action
	}
	if overlay.DelaySeconds != nil {
		eff.PostRunAction.DelaySeconds = *overlay.DelaySeconds
	}
	if overlay.Command != nil {
		eff.PostRunAction.Command = *overlay.Command
	}
	if overlay.Force != nil {
		eff.PostRunAction.Force = *overlay.Force
	}
}

// executePostRunAction performs the machine-level action after the whole
// run. Failures are logged; there is nothing left to degrade.
func (s *Impl) executePostRunAction(ctx context.Context, plan *resolve.JobPlan, action models.EffectivePostRunAction) {
	name, args := postRunCommand(action)
	if name == "" {
		return
	}

	s.logger.Info().
		Str("action", action.Action).
		Str("set", plan.SetName).
		Int("delay_seconds", action.DelaySeconds).
		Msg("executing post-run action")

	if output, err := s.executor.Execute(ctx, name, args...); err != nil {
		s.logger.Error().Err(err).Str("output", string(output)).Msg("post-run action failed")
	}
}

func postRunCommand(action models.EffectivePostRunAction) (string, []string) {
	switch action.Action {
	case "Shutdown":
		if runtime.GOOS == "windows" {
			args := []string{"/s", "/t", strconv.Itoa(action.DelaySeconds)}
			if action.Force {
				args = append(args, "/f")
			}
			return "shutdown", args
		}
		return "shutdown", []string{"-h", "+" + strconv.Itoa(action.DelaySeconds/60)}
	case "Hibernate":
		if runtime.GOOS == "windows" {
			return "shutdown", []string{"/h"}
		}
		return "systemctl", []string{"hibernate"}
	case "Custom":
		if action.Command == "" {
			return "", nil
		}
		return action.Command, nil
	}
	return "", nil
}

// pruneLogs keeps the newest retention run logs in logDir and removes the
// rest. Retention zero or below disables pruning.
func (s *Impl) pruneLogs(logDir string, retention int) {
	if logDir == "" || retention <= 0 {
		return
	}

	matches, err := filepath.Glob(filepath.Join(logDir, "*.log"))
	if err != nil || len(matches) <= retention {
		return
	}

	type logFile struct {
		path    string
		modTime time.Time
	}
	files := make([]logFile, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, logFile{path: m, modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for _, f := range files[min(retention, len(files)):] {
		if err := os.Remove(f.path); err != nil {
			s.logger.Warn().Str("file", f.path).Err(err).Msg("failed to prune log file")
			continue
		}
		s.logger.Debug().Str("file", f.path).Msg("pruned old log file")
	}
}

package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/services/archive"
	"github.com/hfischer/go7zbackup/internal/services/wake"
	"github.com/rs/zerolog"
)

// Target statuses as reported in the transfer summary.
const (
	TargetSuccess = "Success"
	TargetFailed  = "Failed"
	TargetSkipped = "Skipped"
)

// Service defines the remote transfer stage: stage discovery, per-target
// delivery and conditional local cleanup.
type Service interface {
	Transfer(ctx context.Context, eff *models.EffectiveJobConfig, outcome *models.ArchiveOutcome, runID string) (*models.TransferSummary, error)
}

// Impl implements the transfer Service interface.
type Impl struct {
	registry *Registry
	waker    wake.Service
	logger   zerolog.Logger
}

// New creates the transfer orchestrator with the built-in UNC and SFTP
// providers registered.
func New(logger zerolog.Logger) *Impl {
	registry := NewRegistry()
	registry.Register("UNC", NewUNCProvider(logger))
	registry.Register("SFTP", NewSFTPProvider(logger))
	return &Impl{
		registry: registry,
		waker:    wake.New(logger),
		logger:   logger,
	}
}

// NewWithDeps creates a transfer orchestrator with a custom registry and
// wake service (for testing).
func NewWithDeps(logger zerolog.Logger, registry *Registry, waker wake.Service) *Impl {
	return &Impl{registry: registry, waker: waker, logger: logger}
}

// Transfer delivers every staged file to every resolved target, in order.
// The first target failure aborts the run: remaining targets are marked
// Skipped and no local file is deleted. Local deletion happens only when
// every target succeeded and the job asks for it.
func (s *Impl) Transfer(ctx context.Context, eff *models.EffectiveJobConfig, outcome *models.ArchiveOutcome, runID string) (*models.TransferSummary, error) {
	summary := &models.TransferSummary{}

	staged := s.discoverStagedFiles(eff, outcome)
	summary.StagedFiles = staged

	if len(staged) == 0 {
		for _, target := range eff.ResolvedTargets {
			summary.Targets = append(summary.Targets, models.TargetTransferReport{
				TargetName: target.InstanceName,
				TargetType: target.Type,
				Status:     TargetSkipped,
			})
		}
		return summary, fmt.Errorf("no staged files found for archive %s", outcome.FileName)
	}

	s.logger.Info().
		Str("job", eff.JobName).
		Int("files", len(staged)).
		Int("targets", len(eff.ResolvedTargets)).
		Msg("starting remote transfer")

	meta := JobMetadata{
		JobName:         eff.JobName,
		RunID:           runID,
		ArchiveBaseName: eff.ArchiveBaseName,
	}

	var firstErr error
	for _, target := range eff.ResolvedTargets {
		if firstErr != nil {
			summary.Targets = append(summary.Targets, models.TargetTransferReport{
				TargetName: target.InstanceName,
				TargetType: target.Type,
				Status:     TargetSkipped,
			})
			continue
		}

		report := s.transferToTarget(ctx, staged, target, meta)
		summary.Targets = append(summary.Targets, report)
		if report.Status != TargetSuccess {
			firstErr = fmt.Errorf("transfer to target %s failed: %s",
				target.InstanceName, report.ErrorMessage)
			s.logger.Error().
				Str("target", target.InstanceName).
				Str("error", report.ErrorMessage).
				Msg("target failed, skipping remaining targets")
		}
	}

	summary.AllSucceeded = firstErr == nil && len(eff.ResolvedTargets) > 0

	if summary.AllSucceeded && eff.DeleteLocalArchiveAfterSuccessfulTransfer {
		summary.LocalDeleted = s.deleteLocal(staged)
	}

	return summary, firstErr
}

// transferToTarget sends every staged file to one target. The first file
// failure aborts the remaining files for this target.
func (s *Impl) transferToTarget(ctx context.Context, staged []string, target models.TargetConfig, meta JobMetadata) models.TargetTransferReport {
	report := models.TargetTransferReport{
		TargetName: target.InstanceName,
		TargetType: target.Type,
		Status:     TargetSuccess,
	}

	provider, err := s.registry.Lookup(target.Type)
	if err != nil {
		report.Status = TargetFailed
		report.ErrorMessage = err.Error()
		return report
	}

	if target.WakeOnLAN != nil {
		result := s.waker.Wake(ctx, *target.WakeOnLAN)
		if result.Error != nil {
			// Advisory: the host may already be awake.
			s.logger.Warn().
				Str("target", target.InstanceName).
				Err(result.Error).
				Msg("wake-on-LAN did not confirm the target is up")
		}
	}

	for _, file := range staged {
		outcome := provider.Transfer(ctx, file, target, meta)
		if !outcome.Success {
			report.Status = TargetFailed
			report.ErrorMessage = fmt.Sprintf("%s: %s", filepath.Base(file), outcome.ErrorMessage)
			return report
		}
		report.FilesTransferred++
		report.BytesTransferred += outcome.TransferSize

		s.logger.Info().
			Str("target", target.InstanceName).
			Str("file", filepath.Base(file)).
			Str("remote", outcome.RemotePath).
			Dur("duration", outcome.TransferDuration).
			Msg("file transferred")
	}

	return report
}

// discoverStagedFiles collects the archive volumes plus every sidecar the
// local stage may have produced. Sidecars are probed by their exact
// deterministic names; anything else in the destination directory is left
// alone.
func (s *Impl) discoverStagedFiles(eff *models.EffectiveJobConfig, outcome *models.ArchiveOutcome) []string {
	split := eff.SplitVolumeSize != ""

	plainPath := filepath.Join(filepath.Dir(outcome.ArchivePath), outcome.FileName)
	targetPath := plainPath
	if split {
		targetPath = archive.VolumeBase(outcome.ArchivePath)
	}

	var files []string
	if split {
		volumes, err := archive.FindVolumes(targetPath)
		if err != nil {
			s.logger.Warn().Err(err).Msg("volume discovery failed")
		}
		files = append(files, volumes...)
	} else if fileExists(outcome.ArchivePath) {
		files = append(files, outcome.ArchivePath)
	}

	sidecars := []string{
		plainPath + archive.ContentsManifestSuffix,
		plainPath + "." + eff.ChecksumAlgorithm,
		targetPath + ".manifest." + eff.ChecksumAlgorithm,
		plainPath + archive.PinMarkerSuffix,
	}
	for _, sc := range sidecars {
		if fileExists(sc) {
			files = append(files, sc)
		}
	}

	return files
}

// deleteLocal removes the staged files after an all-targets success.
// Individual failures are warnings; the transfer stage already succeeded.
func (s *Impl) deleteLocal(staged []string) bool {
	allRemoved := true
	for _, file := range staged {
		if err := os.Remove(file); err != nil {
			allRemoved = false
			s.logger.Warn().Str("file", file).Err(err).Msg("failed to delete local file")
			continue
		}
		s.logger.Info().Str("file", filepath.Base(file)).Msg("deleted local file after transfer")
	}
	return allRemoved
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

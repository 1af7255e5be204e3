// Package archive runs the local archive stage: invoke 7-Zip, generate the
// sidecar manifests and checksums, test, verify and pin.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/services/sevenzip"
	"github.com/rs/zerolog"
)

// PinMarkerSuffix marks a pinned archive.
const PinMarkerSuffix = ".pinned"

// Service runs the local archive stage for one job.
type Service interface {
	Process(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error)
}

// Impl implements the Service interface.
type Impl struct {
	archiver  sevenzip.Service
	logger    zerolog.Logger
	now       func() time.Time
	freeSpace func(string) (uint64, error)
}

// New creates a new archive processor.
func New(logger zerolog.Logger, archiver sevenzip.Service) *Impl {
	return &Impl{
		archiver:  archiver,
		logger:    logger,
		now:       time.Now,
		freeSpace: freeSpaceBytes,
	}
}

// NewWithDeps creates a processor with a custom clock and free-space probe
// (for testing).
func NewWithDeps(logger zerolog.Logger, archiver sevenzip.Service, now func() time.Time, freeSpace func(string) (uint64, error)) *Impl {
	return &Impl{archiver: archiver, logger: logger, now: now, freeSpace: freeSpace}
}

// names holds the computed filenames for one archive run.
type names struct {
	// FileName is the plain effective name, e.g. "Docs_2026-08-31.7z" or
	// ".exe" for SFX.
	FileName string
	// ArchivePath is DestinationDir/FileName.
	ArchivePath string
	// TargetPath is what 7-Zip is told to create. Split volumes keep the
	// internal extension even when the effective extension is the SFX
	// rename; 7-Zip appends .001, .002, ... itself.
	TargetPath string
	// PrimaryPath is the first volume when split, else ArchivePath.
	PrimaryPath string
	Split       bool
}

func (s *Impl) computeNames(eff *models.EffectiveJobConfig) names {
	stamp := s.now().Format(eff.ArchiveDateFormat)
	n := names{Split: eff.SplitVolumeSize != ""}

	n.FileName = fmt.Sprintf("%s_%s.%s", eff.ArchiveBaseName, stamp, eff.ArchiveExtension)
	n.ArchivePath = filepath.Join(eff.DestinationDir, n.FileName)

	if n.Split {
		target := fmt.Sprintf("%s_%s.%s", eff.ArchiveBaseName, stamp, eff.InternalArchiveExtension)
		n.TargetPath = filepath.Join(eff.DestinationDir, target)
		n.PrimaryPath = n.TargetPath + ".001"
	} else {
		n.TargetPath = n.ArchivePath
		n.PrimaryPath = n.ArchivePath
	}
	return n
}

// Process runs the local archive sequence. It aborts remaining steps on
// the first fatal condition but still returns the partial outcome so the
// report reflects how far the stage got.
//
//nolint:gocognit,gocyclo // the stage is a fixed linear sequence of steps
func (s *Impl) Process(ctx context.Context, eff *models.EffectiveJobConfig, sources []string, password string) (*models.ArchiveOutcome, error) {
	outcome := &models.ArchiveOutcome{Status: models.StatusSuccess}

	// Step 1: free space gate.
	if eff.MinimumFreeSpaceGB > 0 {
		free, err := s.freeSpace(eff.DestinationDir)
		if err != nil {
			s.warn(outcome, fmt.Sprintf("free space check failed: %v", err))
		} else if free < uint64(eff.MinimumFreeSpaceGB)*humanize.GiByte {
			if eff.HaltOnLowSpace {
				outcome.Status = models.StatusFailure
				return outcome, fmt.Errorf("destination has %s free, below the %d GiB minimum",
					humanize.IBytes(free), eff.MinimumFreeSpaceGB)
			}
			s.warn(outcome, fmt.Sprintf("destination has only %s free", humanize.IBytes(free)))
		}
	}

	// Step 2: names.
	n := s.computeNames(eff)
	outcome.ArchivePath = n.PrimaryPath
	outcome.FileName = n.FileName

	// Step 3: stale volume cleanup.
	if n.Split {
		s.cleanStaleVolumes(outcome, n.TargetPath)
	}

	// Step 4: invoke the archiver.
	if eff.DryRun {
		s.logger.Info().Str("job", eff.JobName).Str("archive", n.TargetPath).
			Msg("dry-run: skipping 7-Zip invocation")
		outcome.AttemptsMade = 0
		if eff.PinOnCreation {
			// Simulated: the outcome reports the pin without the marker
			// file ever touching disk.
			s.logger.Info().Str("job", eff.JobName).
				Str("marker", n.ArchivePath+PinMarkerSuffix).
				Msg("dry-run: would create pin marker")
			outcome.Pinned = true
		}
		return outcome, nil
	}

	result, err := s.archiver.Execute(ctx, sevenzip.Request{
		Args:             sevenzip.BuildCreateArgs(eff, n.TargetPath, sources),
		Priority:         eff.SevenZipPriority,
		Affinity:         eff.CPUAffinity,
		Password:         password,
		EnableRetries:    eff.EnableRetries,
		MaxRetryAttempts: eff.MaxRetryAttempts,
		RetryDelay:       eff.RetryDelay,
	})
	if result != nil {
		outcome.AttemptsMade = result.AttemptsMade
		outcome.ElapsedTime = result.ElapsedTime
	}
	if err != nil {
		outcome.Status = models.StatusFailure
		return outcome, fmt.Errorf("archiver invocation: %w", err)
	}

	switch {
	case result.ExitCode == sevenzip.ExitOK:
		// clean
	case result.ExitCode == sevenzip.ExitWarning && eff.TreatSevenZipWarningsAsSuccess:
		s.logger.Info().Str("job", eff.JobName).Msg("7-Zip reported warnings, configured as success")
	case result.ExitCode == sevenzip.ExitWarning:
		s.warn(outcome, "7-Zip reported warnings")
	default:
		outcome.Status = models.StatusFailure
		s.logger.Error().Int("exit_code", result.ExitCode).Int("attempts", result.AttemptsMade).
			Str("job", eff.JobName).Msg("7-Zip failed")
	}

	if size, err := s.totalSize(n); err == nil {
		outcome.SizeBytes = size
	}

	// Step 5: sidecars, unless the archive itself failed.
	var checksumFile string
	if outcome.Status != models.StatusFailure {
		checksumFile = s.generateSidecars(ctx, eff, n, outcome)
	}

	// Step 6: integrity test.
	testRequired := eff.TestArchiveAfterCreation || eff.VerifyLocalArchiveBeforeTransfer
	if testRequired && outcome.Status != models.StatusFailure && fileExists(n.PrimaryPath) {
		s.testArchive(ctx, eff, n, password, outcome)
	}

	// Step 7: checksum verification after a passed (or warning-tolerated)
	// test.
	if outcome.Tested && outcome.TestPassed && checksumFile != "" {
		s.verifyChecksums(ctx, eff, checksumFile, outcome)
	}

	// Step 8: pin marker. Never blocks transfer.
	if eff.PinOnCreation && outcome.Status != models.StatusFailure {
		marker := n.ArchivePath + PinMarkerSuffix
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			s.warn(outcome, fmt.Sprintf("failed to create pin marker: %v", err))
		} else {
			outcome.Pinned = true
		}
	}

	s.logger.Info().
		Str("job", eff.JobName).
		Str("status", string(outcome.Status)).
		Str("archive", outcome.ArchivePath).
		Str("size", humanize.IBytes(uint64(outcome.SizeBytes))).
		Dur("elapsed", outcome.ElapsedTime).
		Msg("local archive stage finished")

	return outcome, nil
}

func (s *Impl) warn(outcome *models.ArchiveOutcome, msg string) {
	s.logger.Warn().Msg(msg)
	outcome.Warnings = append(outcome.Warnings, msg)
	outcome.Status = outcome.Status.Worse(models.StatusWarnings)
}

// cleanStaleVolumes removes leftovers of a previous run with the same
// target name. Deletion failures degrade to a warning; archiving proceeds
// and the half-cleaned state is an accepted, logged risk.
func (s *Impl) cleanStaleVolumes(outcome *models.ArchiveOutcome, targetPath string) {
	stale, err := FindVolumes(targetPath)
	if err != nil {
		s.warn(outcome, fmt.Sprintf("stale volume scan failed: %v", err))
		return
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			s.warn(outcome, fmt.Sprintf("failed to delete stale volume %s: %v", filepath.Base(f), err))
			continue
		}
		s.logger.Info().Str("file", filepath.Base(f)).Msg("deleted stale volume")
	}
}

// generateSidecars writes the contents manifest and the checksum sidecar or
// split manifest. Returns the checksum file to verify later, if any.
func (s *Impl) generateSidecars(ctx context.Context, eff *models.EffectiveJobConfig, n names, outcome *models.ArchiveOutcome) string {
	if eff.GenerateContentsManifest {
		entries, err := s.archiver.ListContents(ctx, n.PrimaryPath, "")
		if err != nil {
			s.warn(outcome, fmt.Sprintf("listing archive contents failed: %v", err))
		} else if _, err := WriteContentsManifest(n.ArchivePath, entries); err != nil {
			s.warn(outcome, fmt.Sprintf("contents manifest failed: %v", err))
		}
	}

	if n.Split && eff.GenerateSplitArchiveManifest {
		volumes, err := FindVolumes(n.TargetPath)
		if err != nil || len(volumes) == 0 {
			s.warn(outcome, fmt.Sprintf("volume discovery for manifest failed: %v", err))
			return ""
		}
		manifest, warnings, err := WriteSplitManifest(ctx, eff.ChecksumAlgorithm, volumes)
		for _, w := range warnings {
			s.warn(outcome, w)
		}
		if err != nil {
			s.warn(outcome, fmt.Sprintf("split manifest failed: %v", err))
			return ""
		}
		return manifest
	}

	if !n.Split && eff.GenerateChecksum {
		sidecar, err := WriteChecksumFile(ctx, eff.ChecksumAlgorithm, n.ArchivePath)
		if err != nil {
			s.warn(outcome, fmt.Sprintf("checksum generation failed: %v", err))
			return ""
		}
		if sum, err := ChecksumFile(ctx, eff.ChecksumAlgorithm, n.ArchivePath); err == nil {
			outcome.Checksum = sum
		}
		return sidecar
	}

	return ""
}

func (s *Impl) testArchive(ctx context.Context, eff *models.EffectiveJobConfig, n names, password string, outcome *models.ArchiveOutcome) {
	outcome.Tested = true

	result, err := s.archiver.Test(ctx, n.PrimaryPath, password, sevenzip.Request{
		EnableRetries:    eff.EnableRetries,
		MaxRetryAttempts: eff.MaxRetryAttempts,
		RetryDelay:       eff.RetryDelay,
	})
	passed := err == nil &&
		(result.ExitCode == sevenzip.ExitOK ||
			(result.ExitCode == sevenzip.ExitWarning && eff.TreatSevenZipWarningsAsSuccess))
	outcome.TestPassed = passed

	if passed {
		s.logger.Info().Str("archive", n.PrimaryPath).Msg("archive integrity test passed")
		return
	}

	msg := "archive integrity test failed"
	if err != nil {
		msg = fmt.Sprintf("archive integrity test failed: %v", err)
	}
	if eff.VerifyLocalArchiveBeforeTransfer {
		// Verification gates transfer; a failed test blocks it.
		outcome.Status = models.StatusFailure
		s.logger.Error().Str("archive", n.PrimaryPath).Msg(msg)
		return
	}
	s.warn(outcome, msg)
}

func (s *Impl) verifyChecksums(ctx context.Context, eff *models.EffectiveJobConfig, checksumFile string, outcome *models.ArchiveOutcome) {
	mismatches, err := VerifyChecksumManifest(ctx, eff.ChecksumAlgorithm, checksumFile)
	if err != nil {
		s.degradeVerify(eff, outcome, fmt.Sprintf("checksum verification unreadable: %v", err))
		return
	}
	if len(mismatches) > 0 {
		for _, m := range mismatches {
			s.logger.Error().Str("detail", m).Msg("checksum verification mismatch")
		}
		s.degradeVerify(eff, outcome, fmt.Sprintf("%d checksum mismatch(es)", len(mismatches)))
		return
	}

	outcome.Verified = true
	s.logger.Info().Str("manifest", filepath.Base(checksumFile)).Msg("checksums verified")
}

func (s *Impl) degradeVerify(eff *models.EffectiveJobConfig, outcome *models.ArchiveOutcome, msg string) {
	if eff.VerifyLocalArchiveBeforeTransfer {
		outcome.Status = models.StatusFailure
		s.logger.Error().Msg(msg)
		return
	}
	s.warn(outcome, msg)
}

func (s *Impl) totalSize(n names) (int64, error) {
	if !n.Split {
		info, err := os.Stat(n.ArchivePath)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	volumes, err := FindVolumes(n.TargetPath)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, v := range volumes {
		if info, err := os.Stat(v); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}

var volumeSuffixRe = regexp.MustCompile(`^\.\d{3,}$`)

// FindVolumes returns targetPath.001, .002, ... sorted by name.
func FindVolumes(targetPath string) ([]string, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var volumes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) <= len(base) || name[:len(base)] != base {
			continue
		}
		if volumeSuffixRe.MatchString(name[len(base):]) {
			volumes = append(volumes, filepath.Join(dir, name))
		}
	}
	sort.Strings(volumes)
	return volumes, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

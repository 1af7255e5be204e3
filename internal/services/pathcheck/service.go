// Package pathcheck validates job source and destination paths before any
// expensive work starts.
package pathcheck

import (
	"fmt"
	"os"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

// Service validates paths for one job.
type Service interface {
	Validate(eff *models.EffectiveJobConfig) (models.PathDisposition, error)
}

// Impl implements the Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new path validator.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Validate checks that every source path exists and that the destination
// directory is writable. A missing source maps to the job's
// OnSourcePathNotFound disposition; destination problems always fail the
// job. When the source is a VM name there is nothing on the local
// filesystem to check.
func (s *Impl) Validate(eff *models.EffectiveJobConfig) (models.PathDisposition, error) {
	if !eff.SourceIsVMName {
		for _, src := range eff.SourcePaths {
			if _, err := os.Stat(src); err != nil {
				s.logger.Error().
					Str("job", eff.JobName).
					Str("path", src).
					Str("disposition", eff.OnSourcePathNotFound).
					Msg("source path not found")
				err := fmt.Errorf("source path not found: %s", src)
				if eff.OnSourcePathNotFound == "SkipJob" {
					return models.DispositionSkipJob, err
				}
				return models.DispositionFailJob, err
			}
		}
	}

	if err := checkWritable(eff.DestinationDir); err != nil {
		return models.DispositionFailJob, fmt.Errorf("destination not writable: %w", err)
	}

	return models.DispositionProceed, nil
}

func checkWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".go7zbackup-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

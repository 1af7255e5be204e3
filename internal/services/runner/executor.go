package runner

import (
	"context"
	"os/exec"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/services/archive"
	"github.com/hfischer/go7zbackup/internal/services/sevenzip"
	"github.com/rs/zerolog"
)

// defaultExecutor runs hook scripts and post-run commands through os/exec.
type defaultExecutor struct{}

func (e *defaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// newArchiveService builds the local archive processor for one job. The
// archiver binary path is part of the effective configuration, so the
// service is constructed per job rather than once at startup.
func newArchiveService(logger zerolog.Logger, eff *models.EffectiveJobConfig) archive.Service {
	return archive.New(logger, sevenzip.New(logger, eff.SevenZipPath))
}

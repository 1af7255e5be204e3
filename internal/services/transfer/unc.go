package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

// UNCProvider copies files to a UNC share (or any mounted filesystem path).
type UNCProvider struct {
	logger zerolog.Logger
}

// NewUNCProvider creates the UNC copy provider.
func NewUNCProvider(logger zerolog.Logger) *UNCProvider {
	return &UNCProvider{logger: logger}
}

// Transfer copies one file into <UNCPath>\<JobName>\.
func (p *UNCProvider) Transfer(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome {
	start := time.Now()

	remoteDir := filepath.Join(target.UNCPath, meta.JobName)
	remotePath := filepath.Join(remoteDir, filepath.Base(localPath))

	outcome := models.TransferOutcome{RemotePath: remotePath}
	fail := func(format string, args ...any) models.TransferOutcome {
		outcome.ErrorMessage = fmt.Sprintf(format, args...)
		outcome.TransferDuration = time.Since(start)
		return outcome
	}

	if err := os.MkdirAll(remoteDir, 0o755); err != nil {
		return fail("creating remote directory: %v", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fail("opening local file: %v", err)
	}
	defer src.Close()

	tmp := remotePath + ".partial"
	dst, err := os.Create(tmp)
	if err != nil {
		return fail("creating remote file: %v", err)
	}

	written, err := copyWithContext(ctx, dst, src)
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fail("copying: %v", err)
	}
	if err := os.Rename(tmp, remotePath); err != nil {
		_ = os.Remove(tmp)
		return fail("finalizing remote file: %v", err)
	}

	outcome.Success = true
	outcome.TransferSize = written
	outcome.TransferDuration = time.Since(start)

	p.logger.Debug().
		Str("target", target.InstanceName).
		Str("remote", remotePath).
		Int64("bytes", written).
		Msg("file copied to UNC target")
	return outcome
}

// copyWithContext copies in chunks, aborting between chunks when the
// context is cancelled.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

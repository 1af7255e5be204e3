// Package sevenzip wraps the 7-Zip command line binary. The exit code
// contract is load-bearing: 0 = clean, 1 = warning, anything else = error.
package sevenzip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/rs/zerolog"
)

// Exit codes documented by 7-Zip.
const (
	ExitOK      = 0
	ExitWarning = 1
)

// Request carries one archiver invocation.
type Request struct {
	Args     []string
	Priority string
	Affinity string
	Password string

	EnableRetries    bool
	MaxRetryAttempts int
	RetryDelay       time.Duration
}

// Service defines the archiver subprocess contract.
type Service interface {
	Execute(ctx context.Context, req Request) (*models.ExecResult, error)
	Test(ctx context.Context, archivePath, password string, req Request) (*models.ExecResult, error)
	ListContents(ctx context.Context, archivePath, password string) ([]models.ArchiveEntry, error)
}

// CommandExecutor allows mocking the subprocess in tests. It returns the
// combined output and the process exit code; err is reserved for failures
// to run the binary at all.
type CommandExecutor interface {
	Execute(ctx context.Context, priority, affinity, name string, args ...string) ([]byte, int, error)
}

// DefaultExecutor runs the binary with os/exec and applies the requested
// process priority and CPU affinity after start.
type DefaultExecutor struct{}

// Execute runs a command and returns its combined output and exit code.
func (e *DefaultExecutor) Execute(ctx context.Context, priority, affinity, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		return nil, -1, fmt.Errorf("starting %s: %w", name, err)
	}

	if priority != "" || affinity != "" {
		setProcessAttrs(cmd.Process.Pid, priority, affinity)
	}

	err := cmd.Wait()
	if err == nil {
		return buf.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	return buf.Bytes(), -1, err
}

// Impl implements the Service interface.
type Impl struct {
	binary   string
	executor CommandExecutor
	clock    clock.Clock
	logger   zerolog.Logger
}

// New creates a new 7-Zip service for the given binary path.
func New(logger zerolog.Logger, binary string) *Impl {
	return &Impl{
		binary:   binary,
		executor: &DefaultExecutor{},
		clock:    clock.WallClock,
		logger:   logger,
	}
}

// NewWithExecutor creates a service with a custom executor and clock (for
// testing).
func NewWithExecutor(logger zerolog.Logger, binary string, executor CommandExecutor, clk clock.Clock) *Impl {
	return &Impl{binary: binary, executor: executor, clock: clk, logger: logger}
}

// retriableExit marks exit codes worth another attempt. Warnings are final;
// only hard errors retry.
type retriableExit struct {
	code   int
	output string
}

func (e *retriableExit) Error() string {
	return fmt.Sprintf("7-Zip exited with code %d", e.code)
}

// Execute runs one archiver invocation, retrying hard failures up to the
// configured attempt limit with a fixed delay.
func (s *Impl) Execute(ctx context.Context, req Request) (*models.ExecResult, error) {
	args := req.Args
	if req.Password != "" {
		args = append(append([]string(nil), args...), "-p"+req.Password)
	}

	start := time.Now()
	result := &models.ExecResult{}

	attempts := 1
	if req.EnableRetries && req.MaxRetryAttempts > 1 {
		attempts = req.MaxRetryAttempts
	}

	call := func() error {
		result.AttemptsMade++
		output, code, err := s.executor.Execute(ctx, req.Priority, req.Affinity, s.binary, args...)
		result.Output = string(output)
		result.ExitCode = code
		if err != nil {
			return err
		}
		if code == ExitOK || code == ExitWarning {
			return nil
		}
		return &retriableExit{code: code, output: result.Output}
	}

	err := retry.Call(retry.CallArgs{
		Func:     call,
		Attempts: attempts,
		Delay:    req.RetryDelay,
		Clock:    s.clock,
		Stop:     ctx.Done(),
		IsFatalError: func(err error) bool {
			var re *retriableExit
			return !errors.As(err, &re)
		},
		NotifyFunc: func(lastErr error, attempt int) {
			s.logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", req.RetryDelay).
				Msg("7-Zip invocation failed, will retry")
		},
	})

	result.ElapsedTime = time.Since(start)

	var re *retriableExit
	if errors.As(err, &re) {
		// Retries exhausted; the exit code is already in the result.
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("running 7-Zip: %w", err)
	}
	return result, nil
}

// Test runs an integrity test against the archive (first volume when split).
func (s *Impl) Test(ctx context.Context, archivePath, password string, req Request) (*models.ExecResult, error) {
	testReq := req
	testReq.Args = []string{"t", archivePath, "-y"}
	testReq.Password = password
	if password == "" {
		// Keep 7-Zip from blocking on a password prompt for encrypted
		// headers during unattended runs.
		testReq.Args = append(testReq.Args, "-p")
	}
	return s.Execute(ctx, testReq)
}

// ListContents lists the files inside an archive, excluding directory
// entries, by parsing `7z l -slt` output.
func (s *Impl) ListContents(ctx context.Context, archivePath, password string) ([]models.ArchiveEntry, error) {
	args := []string{"l", "-slt", archivePath, "-y"}
	if password != "" {
		args = append(args, "-p"+password)
	} else {
		args = append(args, "-p")
	}

	output, code, err := s.executor.Execute(ctx, "", "", s.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("listing archive contents: %w", err)
	}
	if code != ExitOK && code != ExitWarning {
		return nil, fmt.Errorf("7-Zip list exited with code %d: %s", code, strings.TrimSpace(string(output)))
	}

	return parseListing(string(output)), nil
}

// parseListing parses the -slt block format: one blank-line-separated block
// of "Key = Value" pairs per entry, after a "----------" header separator.
func parseListing(output string) []models.ArchiveEntry {
	var entries []models.ArchiveEntry
	var cur *models.ArchiveEntry
	inBody := false

	flush := func() {
		if cur == nil {
			return
		}
		// Directory entries carry the D attribute and are excluded from
		// the contents manifest.
		if !strings.Contains(cur.Attributes, "D") && cur.Path != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")

		if strings.HasPrefix(line, "----------") {
			inBody = true
			continue
		}
		if !inBody {
			continue
		}
		if line == "" {
			flush()
			continue
		}

		key, value, found := strings.Cut(line, " = ")
		if !found {
			continue
		}
		if cur == nil {
			cur = &models.ArchiveEntry{}
		}
		switch key {
		case "Path":
			cur.Path = value
		case "Size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.Size = n
			}
		case "Modified":
			cur.Modified = value
		case "Attributes":
			cur.Attributes = value
		case "CRC":
			cur.CRC = value
		}
	}
	flush()

	return entries
}

// BuildCreateArgs assembles the archive-creation argument list from the
// effective configuration. targetPath is the 7-Zip target name, which for
// split archives uses the internal extension rather than the SFX rename.
func BuildCreateArgs(eff *models.EffectiveJobConfig, targetPath string, sources []string) []string {
	args := []string{"a", "-t" + eff.ArchiveType, targetPath}

	args = append(args,
		eff.CompressionLevel,
		eff.CompressionMethod,
		eff.DictionarySize,
		eff.WordSize,
		eff.SolidBlockSize,
		eff.ThreadCount,
	)

	if eff.CreateSFX {
		args = append(args, "-sfx"+eff.SFXModule)
	}
	if eff.SplitVolumeSize != "" {
		args = append(args, "-v"+eff.SplitVolumeSize)
	}
	if eff.TempDir != "" {
		args = append(args, "-w"+eff.TempDir)
	}
	if eff.IncludeListFile != "" {
		args = append(args, "-i@"+eff.IncludeListFile)
	}
	if eff.ExcludeListFile != "" {
		args = append(args, "-x@"+eff.ExcludeListFile)
	}

	args = append(args, "-y")
	args = append(args, sources...)
	return args
}

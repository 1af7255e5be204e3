package vss

import (
	"context"
	"os/exec"
)

// DefaultExecutor runs PowerShell (and other tooling) with os/exec.
type DefaultExecutor struct{}

func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

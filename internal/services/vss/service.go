// Package vss abstracts the Volume Shadow Copy Service. The default
// implementation shells out to PowerShell/WMI; tests and non-Windows
// platforms substitute their own implementation of the interface.
package vss

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Service creates and removes shadow copies.
type Service interface {
	// CreateShadowCopies makes one shadow copy per distinct volume backing
	// the given paths and returns a map of original path to shadow path.
	// It polls until the copies are ready or the timeout expires.
	CreateShadowCopies(ctx context.Context, paths []string, contextOption, cacheFilePath string, timeout, interval time.Duration) (map[string]string, error)
	// RemoveShadowCopies removes every shadow copy this service created.
	RemoveShadowCopies(ctx context.Context) error
	// IsAdmin reports whether the process has the privileges VSS needs.
	IsAdmin() bool
}

// CommandExecutor runs PowerShell; mockable in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ErrTimeout marks a shadow copy set that never became ready. Distinct from
// provider failure so callers can tell the two apart.
var ErrTimeout = fmt.Errorf("timed out waiting for shadow copies")

// Impl drives VSS through PowerShell's Win32_ShadowCopy interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger

	createdIDs []string
}

// New creates a new VSS service.
func New(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{executor: executor, logger: logger}
}

// IsAdmin probes for administrator rights; shadow copy creation is denied
// without them.
func (s *Impl) IsAdmin() bool {
	return isElevated()
}

type shadowInfo struct {
	ID     string `json:"ID"`
	Volume string `json:"VolumeName"`
	Device string `json:"DeviceObject"`
}

// CreateShadowCopies creates one shadow copy per distinct volume and polls
// until every copy reports ready. Zero copies after a requested VSS run is
// the caller's fatal condition, not this method's.
func (s *Impl) CreateShadowCopies(ctx context.Context, paths []string, contextOption, cacheFilePath string, timeout, interval time.Duration) (map[string]string, error) {
	volumes := distinctVolumes(paths)
	if len(volumes) == 0 {
		return nil, fmt.Errorf("no volumes derived from source paths")
	}

	created := make(map[string]shadowInfo, len(volumes))
	for _, vol := range volumes {
		info, err := s.createOne(ctx, vol, contextOption, timeout, interval)
		if err != nil {
			return nil, fmt.Errorf("creating shadow copy for %s: %w", vol, err)
		}
		created[vol] = *info
		s.logger.Info().
			Str("volume", vol).
			Str("shadow_id", info.ID).
			Str("device", info.Device).
			Msg("shadow copy created")
	}

	mapping := make(map[string]string, len(paths))
	for _, p := range paths {
		vol := volumeOf(p)
		info, ok := created[vol]
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(p, vol)
		mapping[p] = filepath.Join(info.Device, rel)
	}

	return mapping, nil
}

// createOne issues the Create call and polls the copy's status with a
// bounded deadline; it must fail deterministically rather than hang.
func (s *Impl) createOne(ctx context.Context, volume, contextOption string, timeout, interval time.Duration) (*shadowInfo, error) {
	script := fmt.Sprintf(
		`(Invoke-CimMethod -ClassName Win32_ShadowCopy -MethodName Create -Arguments @{Volume=%q; Context=%q}).ShadowID`,
		volume+`\`, contextOption)

	out, err := s.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, fmt.Errorf("shadow copy create call failed: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return nil, fmt.Errorf("shadow copy create returned no ID")
	}
	// The copy exists from this point on. Track the ID before polling so
	// RemoveShadowCopies can release it even when readiness never comes.
	s.createdIDs = append(s.createdIDs, id)

	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (shadow %s after %s)", ErrTimeout, id, timeout)
		}

		info, ready, err := s.queryShadow(ctx, id)
		if err != nil {
			return nil, err
		}
		if ready {
			return info, nil
		}

		s.logger.Debug().Str("shadow_id", id).Msg("shadow copy not ready yet")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Impl) queryShadow(ctx context.Context, id string) (*shadowInfo, bool, error) {
	script := fmt.Sprintf(
		`Get-CimInstance Win32_ShadowCopy | Where-Object ID -eq %q | Select-Object ID,VolumeName,DeviceObject | ConvertTo-Json`, id)

	out, err := s.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		return nil, false, fmt.Errorf("querying shadow copy %s: %w", id, err)
	}

	trimmed := strings.TrimSpace(string(out))
	if trimmed == "" {
		return nil, false, nil
	}

	var info shadowInfo
	if err := json.Unmarshal([]byte(trimmed), &info); err != nil {
		return nil, false, fmt.Errorf("parsing shadow copy info: %w", err)
	}
	return &info, info.Device != "", nil
}

// RemoveShadowCopies deletes every shadow copy created by this instance.
// Errors on individual copies are collected, not short-circuited; cleanup
// must attempt all of them.
func (s *Impl) RemoveShadowCopies(ctx context.Context) error {
	var firstErr error
	for _, id := range s.createdIDs {
		script := fmt.Sprintf(
			`Get-CimInstance Win32_ShadowCopy | Where-Object ID -eq %q | Remove-CimInstance`, id)
		if _, err := s.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script); err != nil {
			s.logger.Warn().Err(err).Str("shadow_id", id).Msg("failed to remove shadow copy")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.logger.Debug().Str("shadow_id", id).Msg("shadow copy removed")
	}
	s.createdIDs = nil
	return firstErr
}

// distinctVolumes extracts the unique volume roots (e.g. "C:") from a path
// list, preserving order.
func distinctVolumes(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		vol := volumeOf(p)
		if vol == "" || seen[vol] {
			continue
		}
		seen[vol] = true
		out = append(out, vol)
	}
	return out
}

func volumeOf(path string) string {
	vol := filepath.VolumeName(path)
	if vol == "" && len(path) >= 2 && path[1] == ':' {
		vol = path[:2]
	}
	return vol
}

// isElevated checks for an effective way to tell whether the process can
// talk to the VSS writer infrastructure.
func isElevated() bool {
	// On Windows only elevated processes can open \\.\PHYSICALDRIVE0; on
	// other platforms root is the equivalent bar.
	if os.Geteuid() == 0 {
		return true
	}
	f, err := os.Open(`\\.\PHYSICALDRIVE0`)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// Package snapshot provides the pluggable snapshot provider registry.
// Providers create an infrastructure-level point-in-time copy of a resource
// (typically a VM) and expose it as mountable paths.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

// Provider is one snapshot backend.
type Provider interface {
	// CreateSnapshot snapshots the named resource. A failed session carries
	// Success=false and an error message rather than an error return, so
	// the caller can still record the session in the report.
	CreateSnapshot(ctx context.Context, resourceName string, cfg models.SnapshotProviderConfig) (*models.SnapshotSession, error)
	// GetMountPaths returns the paths where the snapshot contents are
	// reachable.
	GetMountPaths(ctx context.Context, session *models.SnapshotSession) ([]string, error)
	// Dismount releases the snapshot.
	Dismount(ctx context.Context, session *models.SnapshotSession) error
}

// Registry maps provider type names to implementations. Built once at
// startup; never consulted dynamically by module filename.
type Registry struct {
	providers map[string]Provider
	logger    zerolog.Logger
}

// NewRegistry creates a registry with the built-in providers registered.
func NewRegistry(logger zerolog.Logger, executor CommandExecutor) *Registry {
	r := &Registry{providers: make(map[string]Provider), logger: logger}
	r.Register("HyperV", NewHyperVProvider(logger, executor))
	return r
}

// Register adds a provider under a type name.
func (r *Registry) Register(typeName string, p Provider) {
	r.providers[typeName] = p
}

// Lookup resolves a provider by its type name.
func (r *Registry) Lookup(typeName string) (Provider, error) {
	p, ok := r.providers[typeName]
	if !ok {
		names := make([]string, 0, len(r.providers))
		for n := range r.providers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("no snapshot provider registered for type %q (registered: %s)",
			typeName, strings.Join(names, ", "))
	}
	return p, nil
}

// CommandExecutor runs the hypervisor tooling; mockable in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// HyperVProvider checkpoints a Hyper-V VM and mounts the checkpoint VHDs.
type HyperVProvider struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// NewHyperVProvider creates the Hyper-V checkpoint provider.
func NewHyperVProvider(logger zerolog.Logger, executor CommandExecutor) *HyperVProvider {
	return &HyperVProvider{executor: executor, logger: logger}
}

// CreateSnapshot creates a standard checkpoint of the named VM.
func (p *HyperVProvider) CreateSnapshot(ctx context.Context, resourceName string, cfg models.SnapshotProviderConfig) (*models.SnapshotSession, error) {
	session := &models.SnapshotSession{
		SessionID:    uuid.NewString(),
		ProviderType: "HyperV",
		ResourceName: resourceName,
	}

	checkpointName := "go7zbackup-" + session.SessionID
	script := fmt.Sprintf(`Checkpoint-VM -Name %q -SnapshotName %q`, resourceName, checkpointName)

	p.logger.Info().
		Str("vm", resourceName).
		Str("session_id", session.SessionID).
		Msg("creating Hyper-V checkpoint")

	if out, err := p.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script); err != nil {
		session.ErrorMessage = fmt.Sprintf("checkpoint failed: %v: %s", err, strings.TrimSpace(string(out)))
		return session, nil
	}

	mountScript := fmt.Sprintf(
		`(Get-VMSnapshot -VMName %q -Name %q | Get-VMHardDiskDrive).Path | ForEach-Object { (Mount-VHD -Path $_ -ReadOnly -PassThru | Get-Disk | Get-Partition | Get-Volume).DriveLetter }`,
		resourceName, checkpointName)
	out, err := p.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", mountScript)
	if err != nil {
		session.ErrorMessage = fmt.Sprintf("mounting checkpoint disks failed: %v", err)
		return session, nil
	}

	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		letter := strings.TrimSpace(line)
		if letter == "" {
			continue
		}
		session.MountPaths = append(session.MountPaths, letter+`:\`)
	}

	session.Success = true
	return session, nil
}

// GetMountPaths returns the drive roots the checkpoint disks are mounted
// under.
func (p *HyperVProvider) GetMountPaths(ctx context.Context, session *models.SnapshotSession) ([]string, error) {
	if !session.Success {
		return nil, fmt.Errorf("session %s did not succeed: %s", session.SessionID, session.ErrorMessage)
	}
	return session.MountPaths, nil
}

// Dismount unmounts the checkpoint VHDs and removes the checkpoint.
func (p *HyperVProvider) Dismount(ctx context.Context, session *models.SnapshotSession) error {
	checkpointName := "go7zbackup-" + session.SessionID
	script := fmt.Sprintf(
		`Get-VMSnapshot -VMName %q -Name %q | ForEach-Object { ($_ | Get-VMHardDiskDrive).Path | ForEach-Object { Dismount-VHD -Path $_ -ErrorAction SilentlyContinue }; Remove-VMSnapshot -VMSnapshot $_ }`,
		session.ResourceName, checkpointName)

	if _, err := p.executor.Execute(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script); err != nil {
		return fmt.Errorf("dismounting snapshot %s: %w", session.SessionID, err)
	}

	p.logger.Info().
		Str("vm", session.ResourceName).
		Str("session_id", session.SessionID).
		Msg("snapshot dismounted")
	return nil
}

// Package source decides how a job's source paths become stable paths for
// the archiver: via a snapshot provider, via VSS, or untouched.
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/hfischer/go7zbackup/internal/services/snapshot"
	"github.com/hfischer/go7zbackup/internal/services/vss"
	"github.com/rs/zerolog"
)

// Service resolves source paths and hands back the cleanup handles the
// caller must release on every exit path.
type Service interface {
	Resolve(ctx context.Context, eff *models.EffectiveJobConfig, providers map[string]models.SnapshotProviderConfig) (*models.SourceResolution, error)
	Cleanup(ctx context.Context, res *models.SourceResolution)
}

// Impl implements the Service interface.
type Impl struct {
	vssSvc   vss.Service
	registry *snapshot.Registry
	logger   zerolog.Logger
}

// New creates a new source resolver.
func New(logger zerolog.Logger, vssSvc vss.Service, registry *snapshot.Registry) *Impl {
	return &Impl{vssSvc: vssSvc, registry: registry, logger: logger}
}

// Resolve runs the three-state machine: SnapshotPath, VSSPath or NoOp.
func (s *Impl) Resolve(ctx context.Context, eff *models.EffectiveJobConfig, providers map[string]models.SnapshotProviderConfig) (*models.SourceResolution, error) {
	switch {
	case eff.SnapshotProviderName != "":
		return s.resolveSnapshot(ctx, eff, providers)
	case eff.UseVSS:
		return s.resolveVSS(ctx, eff)
	default:
		return &models.SourceResolution{SourcePaths: eff.SourcePaths}, nil
	}
}

// resolveSnapshot snapshots the named VM and rewrites sub-paths onto the
// mounted checkpoint drives.
func (s *Impl) resolveSnapshot(ctx context.Context, eff *models.EffectiveJobConfig, providers map[string]models.SnapshotProviderConfig) (*models.SourceResolution, error) {
	if !eff.SourceIsVMName {
		return nil, fmt.Errorf("job %q: SnapshotProviderName requires SourceIsVMName", eff.JobName)
	}

	providerCfg, ok := providers[eff.SnapshotProviderName]
	if !ok {
		return nil, fmt.Errorf("job %q: snapshot provider %q not found in SnapshotProviders",
			eff.JobName, eff.SnapshotProviderName)
	}

	provider, err := s.registry.Lookup(providerCfg.Type)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", eff.JobName, err)
	}

	if len(eff.SourcePaths) == 0 {
		return nil, fmt.Errorf("job %q: no source resource named", eff.JobName)
	}
	resource := eff.SourcePaths[0]

	session, err := provider.CreateSnapshot(ctx, resource, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("job %q: creating snapshot: %w", eff.JobName, err)
	}
	if !session.Success {
		// The failed session is still returned so the caller can record
		// and release whatever half-state the provider left behind.
		return &models.SourceResolution{Snapshot: session},
			fmt.Errorf("job %q: snapshot of %q failed: %s", eff.JobName, resource, session.ErrorMessage)
	}

	mounts, err := provider.GetMountPaths(ctx, session)
	if err != nil {
		return &models.SourceResolution{Snapshot: session},
			fmt.Errorf("job %q: reading snapshot mount paths: %w", eff.JobName, err)
	}
	if len(mounts) == 0 {
		return &models.SourceResolution{Snapshot: session},
			fmt.Errorf("job %q: snapshot of %q produced no mount paths", eff.JobName, resource)
	}

	resolved := translateSubPaths(eff.SourcePaths[1:], mounts)

	s.logger.Info().
		Str("job", eff.JobName).
		Str("session_id", session.SessionID).
		Strs("paths", resolved).
		Msg("sources resolved via snapshot")

	return &models.SourceResolution{SourcePaths: resolved, Snapshot: session}, nil
}

// translateSubPaths substitutes the snapshot's mounted drive letter for
// each sub-path's original drive, preserving the relative path. With no
// sub-paths the full mounted disks are archived as-is.
func translateSubPaths(subPaths, mounts []string) []string {
	if len(subPaths) == 0 {
		return append([]string(nil), mounts...)
	}

	resolved := make([]string, 0, len(subPaths))
	for i, sub := range subPaths {
		mount := mounts[0]
		if i < len(mounts) {
			mount = mounts[i]
		}
		rel := sub
		if vol := volumePrefix(sub); vol != "" {
			rel = sub[len(vol):]
		}
		rel = strings.TrimLeft(rel, `\/`)
		// Backslash join: the mounts and sub-paths are Windows paths no
		// matter which platform the binary was built for.
		resolved = append(resolved, strings.TrimRight(mount, `\/`)+`\`+rel)
	}
	return resolved
}

// volumePrefix recognizes a drive-letter prefix on any platform.
// filepath.VolumeName only does so on Windows, but the configuration
// carries Windows paths regardless of where the code runs.
func volumePrefix(path string) string {
	if vol := filepath.VolumeName(path); vol != "" {
		return vol
	}
	if len(path) >= 2 && path[1] == ':' {
		return path[:2]
	}
	return ""
}

// resolveVSS shadows the source volumes and rewrites each path to its
// shadow equivalent where a mapping exists.
func (s *Impl) resolveVSS(ctx context.Context, eff *models.EffectiveJobConfig) (*models.SourceResolution, error) {
	if !s.vssSvc.IsAdmin() {
		return nil, fmt.Errorf("job %q: VSS requires administrator privileges", eff.JobName)
	}

	mapping, err := s.vssSvc.CreateShadowCopies(ctx, eff.SourcePaths,
		eff.VSSContextOption, eff.VSSCacheFile, eff.VSSPollingTimeout, eff.VSSPollingInterval)
	if err != nil {
		// Creation may have made some shadows before failing; hand the
		// caller a resolution with the VSS handle so cleanup still runs.
		return &models.SourceResolution{VSSPaths: models.VSSPathsInUse{}},
			fmt.Errorf("job %q: creating shadow copies: %w", eff.JobName, err)
	}
	if len(mapping) == 0 {
		return &models.SourceResolution{VSSPaths: models.VSSPathsInUse{}},
			fmt.Errorf("job %q: VSS requested but no shadow paths were returned", eff.JobName)
	}

	resolved := make([]string, len(eff.SourcePaths))
	for i, p := range eff.SourcePaths {
		if shadow, ok := mapping[p]; ok {
			resolved[i] = shadow
			continue
		}
		// No shadow mapping for this path; it passes through unchanged.
		resolved[i] = p
	}

	s.logger.Info().
		Str("job", eff.JobName).
		Int("shadowed", len(mapping)).
		Msg("sources resolved via VSS")

	return &models.SourceResolution{SourcePaths: resolved, VSSPaths: mapping}, nil
}

// Cleanup releases every handle in the resolution. It is called on success,
// failure and skip alike; errors are logged, never propagated, because
// cleanup runs on error paths already.
func (s *Impl) Cleanup(ctx context.Context, res *models.SourceResolution) {
	if res == nil {
		return
	}

	if res.VSSPaths != nil {
		if err := s.vssSvc.RemoveShadowCopies(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to remove shadow copies")
		}
	}

	if res.Snapshot != nil {
		provider, err := s.registry.Lookup(res.Snapshot.ProviderType)
		if err != nil {
			s.logger.Warn().Err(err).Str("session_id", res.Snapshot.SessionID).
				Msg("no provider to dismount snapshot")
			return
		}
		if err := provider.Dismount(ctx, res.Snapshot); err != nil {
			s.logger.Warn().Err(err).Str("session_id", res.Snapshot.SessionID).
				Msg("failed to dismount snapshot")
		}
	}
}

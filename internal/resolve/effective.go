package resolve

import (
	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

// Resolver computes the effective configuration for one job by layering
// CLI > Set > Job > Global.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates an effective config resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// resCtx bundles the four input tiers for the sub-resolvers. setOv is nil
// when the job is not running as part of a set (or the set declares no
// shared overrides).
type resCtx struct {
	jobName string
	job     *models.JobConfig
	set     *models.SetConfig
	setOv   *models.JobConfig
	global  *models.GlobalSettings
	cli     models.CLIOverrides
}

// Resolve produces the effective configuration for jobName plus the report
// patch the caller merges into the job report accumulator. set may be nil.
func (r *Resolver) Resolve(jobName string, doc *models.Document, set *models.SetConfig, cli models.CLIOverrides) (*models.EffectiveJobConfig, models.ResolutionReport, error) {
	var patch models.ResolutionReport

	job, ok := doc.BackupLocations[jobName]
	if !ok {
		return nil, patch, configErr(jobName, "job not found in BackupLocations")
	}

	ctx := &resCtx{
		jobName: jobName,
		job:     &job,
		global:  &doc.Global,
		cli:     cli,
	}
	if set != nil {
		ctx.set = set
		ctx.setOv = set.Overrides
	}

	eff := &models.EffectiveJobConfig{
		JobName:     jobName,
		SourcePaths: append([]string(nil), job.SourcePaths...),
		DryRun:      cli.DryRun,
	}

	if err := r.resolveDestination(ctx, doc, eff); err != nil {
		return nil, patch, err
	}
	if err := r.resolveArchive(ctx, eff); err != nil {
		return nil, patch, err
	}
	if err := r.resolveSevenZip(ctx, eff); err != nil {
		return nil, patch, err
	}
	if err := r.resolveOperational(ctx, doc, eff); err != nil {
		return nil, patch, err
	}

	patch = models.ResolutionReport{
		VSSUsed:           eff.UseVSS && eff.SnapshotProviderName == "",
		SnapshotUsed:      eff.SnapshotProviderName != "",
		RetriesEnabled:    eff.EnableRetries,
		ArchiveTested:     eff.TestArchiveAfterCreation || eff.VerifyLocalArchiveBeforeTransfer,
		ChecksumAlgorithm: eff.ChecksumAlgorithm,
		TargetCount:       len(eff.ResolvedTargets),
	}

	r.logger.Debug().
		Str("job", jobName).
		Str("destination", eff.DestinationDir).
		Int("targets", len(eff.ResolvedTargets)).
		Bool("vss", eff.UseVSS).
		Msg("effective configuration resolved")

	return eff, patch, nil
}

// fromSet projects a field out of the set override tier, tolerating the
// tier being absent.
func fromSet[T any](setOv *models.JobConfig, pick func(*models.JobConfig) *T) *T {
	if setOv == nil {
		return nil
	}
	return pick(setOv)
}

// reqString walks Set > Job > Global and fails with a ConfigError naming
// both keys when every tier is empty. Absent required defaults indicate a
// broken installation, not a valid "off" state.
func (c *resCtx) reqString(jobKey, globalKey string, setV, jobV *string, globalV string) (string, error) {
	if v, ok := firstString(setV, jobV, optString(globalV)); ok {
		return v, nil
	}
	return "", requiredErr(c.jobName, jobKey, globalKey)
}

func (c *resCtx) reqInt(jobKey, globalKey string, setV, jobV, globalV *int) (int, error) {
	if v, ok := firstInt(setV, jobV, globalV); ok {
		return v, nil
	}
	return 0, requiredErr(c.jobName, jobKey, globalKey)
}

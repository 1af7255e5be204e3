package resolve

import (
	"github.com/hfischer/go7zbackup/internal/models"
)

// resolveDestination resolves the destination directory (required) and the
// job's named targets against the global BackupTargets registry.
func (r *Resolver) resolveDestination(ctx *resCtx, doc *models.Document, eff *models.EffectiveJobConfig) error {
	dest, err := ctx.reqString("DestinationDir", "DefaultDestinationDir",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.DestinationDir }),
		ctx.job.DestinationDir,
		ctx.global.DefaultDestinationDir)
	if err != nil {
		return err
	}
	eff.DestinationDir = dest

	eff.OnSourcePathNotFound = stringOr("FailJob",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.OnSourcePathNotFound }),
		ctx.job.OnSourcePathNotFound,
		optString(ctx.global.DefaultOnSourcePathNotFound))
	if eff.OnSourcePathNotFound != "FailJob" && eff.OnSourcePathNotFound != "SkipJob" {
		return configErr(ctx.jobName, "OnSourcePathNotFound must be FailJob or SkipJob, got %q", eff.OnSourcePathNotFound)
	}

	// Target names come from the job tier only; the set tier may extend the
	// list through its shared overrides.
	names := ctx.job.TargetNames
	if ctx.setOv != nil && len(ctx.setOv.TargetNames) > 0 {
		names = ctx.setOv.TargetNames
	}
	eff.ResolvedTargets = r.resolveTargets(ctx.jobName, names, doc.BackupTargets)

	return nil
}

// resolveTargets clones each named entry from the registry and stamps the
// clone with its instance name. Unresolvable names are logged and skipped;
// the job proceeds with whatever targets did resolve.
func (r *Resolver) resolveTargets(jobName string, names []string, registry map[string]models.TargetConfig) []models.TargetConfig {
	if len(names) == 0 {
		return nil
	}

	resolved := make([]models.TargetConfig, 0, len(names))
	for _, name := range names {
		target, ok := registry[name]
		if !ok {
			r.logger.Warn().
				Str("job", jobName).
				Str("target", name).
				Msg("target name not found in BackupTargets, skipping")
			continue
		}
		// target is already a copy out of the map; fresh per resolution,
		// never shared across jobs.
		target.InstanceName = name
		resolved = append(resolved, target)
	}
	return resolved
}

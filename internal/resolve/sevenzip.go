package resolve

import (
	"fmt"

	"github.com/hfischer/go7zbackup/internal/models"
)

// resolveSevenZip resolves the 7-Zip process parameters. Most of these are
// required at some tier: there is no safe universal default for compression
// settings, so a fully empty chain is a broken installation.
func (r *Resolver) resolveSevenZip(ctx *resCtx, eff *models.EffectiveJobConfig) error {
	type reqField struct {
		jobKey, globalKey string
		setV, jobV        *string
		globalV           string
		out               *string
	}

	fields := []reqField{
		{"CompressionLevel", "DefaultCompressionLevel",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.CompressionLevel }),
			ctx.job.CompressionLevel, ctx.global.DefaultCompressionLevel, &eff.CompressionLevel},
		{"CompressionMethod", "DefaultCompressionMethod",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.CompressionMethod }),
			ctx.job.CompressionMethod, ctx.global.DefaultCompressionMethod, &eff.CompressionMethod},
		{"DictionarySize", "DefaultDictionarySize",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.DictionarySize }),
			ctx.job.DictionarySize, ctx.global.DefaultDictionarySize, &eff.DictionarySize},
		{"WordSize", "DefaultWordSize",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.WordSize }),
			ctx.job.WordSize, ctx.global.DefaultWordSize, &eff.WordSize},
		{"SolidBlockSize", "DefaultSolidBlockSize",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.SolidBlockSize }),
			ctx.job.SolidBlockSize, ctx.global.DefaultSolidBlockSize, &eff.SolidBlockSize},
		{"TempDir", "DefaultTempDir",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.TempDir }),
			ctx.job.TempDir, ctx.global.DefaultTempDir, &eff.TempDir},
	}

	for _, f := range fields {
		v, err := ctx.reqString(f.jobKey, f.globalKey, f.setV, f.jobV, f.globalV)
		if err != nil {
			return err
		}
		*f.out = v
	}

	threads, err := ctx.reqInt("ThreadCount", "DefaultThreadCount",
		fromSet(ctx.setOv, func(j *models.JobConfig) *int { return j.ThreadCount }),
		ctx.job.ThreadCount,
		ctx.global.DefaultThreadCount)
	if err != nil {
		return err
	}
	if threads > 0 {
		eff.ThreadCount = fmt.Sprintf("-mmt=%d", threads)
	} else {
		eff.ThreadCount = "-mmt"
	}

	// Priority and affinity take the CLI tier.
	eff.SevenZipPriority, err = ctx.reqStringCLI("SevenZipPriority", "DefaultSevenZipPriority",
		optString(ctx.cli.Priority),
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.SevenZipPriority }),
		ctx.job.SevenZipPriority,
		ctx.global.DefaultSevenZipPriority)
	if err != nil {
		return err
	}

	eff.CPUAffinity = stringOr("",
		optString(ctx.cli.CPUAffinity),
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.CPUAffinity }),
		ctx.job.CPUAffinity,
		optString(ctx.global.DefaultCPUAffinity))

	eff.IncludeListFile = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.IncludeListFile }),
		ctx.job.IncludeListFile)
	eff.ExcludeListFile = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ExcludeListFile }),
		ctx.job.ExcludeListFile)

	eff.SevenZipPath = ctx.global.SevenZipPath
	if eff.SevenZipPath == "" {
		eff.SevenZipPath = "7z"
	}

	eff.PasswordSecretName = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.PasswordSecretName }),
		ctx.job.PasswordSecretName)

	return nil
}

// reqString with a leading CLI candidate; keeps the call sites above
// readable without widening the common helper.
func (c *resCtx) reqStringCLI(jobKey, globalKey string, cliV *string, setV, jobV *string, globalV string) (string, error) {
	if v, ok := firstString(cliV, setV, jobV, optString(globalV)); ok {
		return v, nil
	}
	return "", requiredErr(c.jobName, jobKey, globalKey)
}

package resolve

import (
	"fmt"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
)

// resolveArchive resolves the archive naming knobs: base name, type,
// extension, date format, split volumes and the SFX special case.
func (r *Resolver) resolveArchive(ctx *resCtx, eff *models.EffectiveJobConfig) error {
	eff.ArchiveBaseName = stringOr(ctx.jobName,
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ArchiveBaseName }),
		ctx.job.ArchiveBaseName)

	var err error
	eff.ArchiveType, err = ctx.reqString("ArchiveType", "DefaultArchiveType",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ArchiveType }),
		ctx.job.ArchiveType,
		ctx.global.DefaultArchiveType)
	if err != nil {
		return err
	}

	ext, err := ctx.reqString("ArchiveExtension", "DefaultArchiveExtension",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ArchiveExtension }),
		ctx.job.ArchiveExtension,
		ctx.global.DefaultArchiveExtension)
	if err != nil {
		return err
	}
	ext = strings.TrimPrefix(ext, ".")
	eff.InternalArchiveExtension = ext
	eff.ArchiveExtension = ext

	eff.CreateSFX = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.CreateSFX }),
		ctx.job.CreateSFX)
	if eff.CreateSFX {
		// A self-extractor is an .exe no matter what extension is configured.
		eff.ArchiveExtension = "exe"
		eff.SFXModule = stringOr("7z.sfx",
			fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.SFXModule }),
			ctx.job.SFXModule,
			optString(ctx.global.DefaultSFXModule))
	}

	format, err := ctx.reqString("ArchiveDateFormat", "DefaultArchiveDateFormat",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ArchiveDateFormat }),
		ctx.job.ArchiveDateFormat,
		ctx.global.DefaultArchiveDateFormat)
	if err != nil {
		return err
	}
	layout, err := ConvertDateFormat(format)
	if err != nil {
		return configErr(ctx.jobName, "malformed ArchiveDateFormat %q: %v", format, err)
	}
	eff.ArchiveDateFormat = layout

	eff.SplitVolumeSize = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.SplitVolumeSize }),
		ctx.job.SplitVolumeSize)

	return nil
}

// ConvertDateFormat converts a yyyy-MM-dd style format string into a Go
// time layout. Only the token set the config files have always used is
// recognized; anything else is a configuration error.
func ConvertDateFormat(format string) (string, error) {
	tokens := map[string]string{
		"yyyy": "2006",
		"yy":   "06",
		"MM":   "01",
		"dd":   "02",
		"HH":   "15",
		"hh":   "03",
		"mm":   "04",
		"ss":   "05",
	}

	var out strings.Builder
	i := 0
	for i < len(format) {
		c := format[i]
		if !isFormatLetter(c) {
			out.WriteByte(c)
			i++
			continue
		}

		j := i
		for j < len(format) && format[j] == c {
			j++
		}
		run := format[i:j]
		layout, ok := tokens[run]
		if !ok {
			return "", fmt.Errorf("unrecognized token %q", run)
		}
		out.WriteString(layout)
		i = j
	}

	return out.String(), nil
}

func isFormatLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

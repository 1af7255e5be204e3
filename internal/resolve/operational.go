package resolve

import (
	"strings"
	"time"

	"github.com/hfischer/go7zbackup/internal/models"
)

// resolveOperational resolves VSS/snapshot enablement, retries, pinning,
// verification, post-run action and notification settings.
//
//nolint:gocognit,gocyclo // one chain per setting, flat by construction
func (r *Resolver) resolveOperational(ctx *resCtx, doc *models.Document, eff *models.EffectiveJobConfig) error {
	eff.SnapshotProviderName = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.SnapshotProviderName }),
		ctx.job.SnapshotProviderName)
	eff.SourceIsVMName = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.SourceIsVMName }),
		ctx.job.SourceIsVMName)

	// VSS: the skip switch beats the force switch beats the chain. A
	// configured snapshot provider subsumes VSS and forces it on.
	switch {
	case ctx.cli.SkipVSS:
		eff.UseVSS = false
	case ctx.cli.UseVSS:
		eff.UseVSS = true
	default:
		eff.UseVSS = boolOr(false,
			fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.UseVSS }),
			ctx.job.UseVSS,
			ctx.global.DefaultUseVSS)
	}
	if eff.SnapshotProviderName != "" {
		eff.UseVSS = true
	}

	if eff.UseVSS {
		timeoutSec, err := ctx.reqInt("VSSPollingTimeoutSeconds", "VSSPollingTimeoutSeconds",
			nil, nil, ctx.global.VSSPollingTimeoutSeconds)
		if err != nil {
			return err
		}
		intervalSec, err := ctx.reqInt("VSSPollingIntervalSeconds", "VSSPollingIntervalSeconds",
			nil, nil, ctx.global.VSSPollingIntervalSeconds)
		if err != nil {
			return err
		}
		eff.VSSPollingTimeout = time.Duration(timeoutSec) * time.Second
		eff.VSSPollingInterval = time.Duration(intervalSec) * time.Second
		eff.VSSContextOption = ctx.global.DefaultVSSContextOption
		if eff.VSSContextOption == "" {
			eff.VSSContextOption = "Persistent"
		}
		eff.VSSCacheFile = ctx.global.VSSMetadataCachePath
	}

	// Retries: skip beats enable beats the chain.
	switch {
	case ctx.cli.SkipRetries:
		eff.EnableRetries = false
	case ctx.cli.EnableRetries:
		eff.EnableRetries = true
	default:
		eff.EnableRetries = boolOr(false,
			fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.EnableRetries }),
			ctx.job.EnableRetries,
			ctx.global.EnableRetries)
	}

	if eff.EnableRetries {
		attempts, err := ctx.reqInt("MaxRetryAttempts", "MaxRetryAttempts",
			fromSet(ctx.setOv, func(j *models.JobConfig) *int { return j.MaxRetryAttempts }),
			ctx.job.MaxRetryAttempts,
			ctx.global.MaxRetryAttempts)
		if err != nil {
			return err
		}
		delaySec, err := ctx.reqInt("RetryDelaySeconds", "RetryDelaySeconds",
			fromSet(ctx.setOv, func(j *models.JobConfig) *int { return j.RetryDelaySeconds }),
			ctx.job.RetryDelaySeconds,
			ctx.global.RetryDelaySeconds)
		if err != nil {
			return err
		}
		eff.MaxRetryAttempts = attempts
		eff.RetryDelay = time.Duration(delaySec) * time.Second
	}

	eff.TreatSevenZipWarningsAsSuccess = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.TreatSevenZipWarningsAsSuccess }),
		ctx.job.TreatSevenZipWarningsAsSuccess,
		ctx.global.TreatSevenZipWarningsAsSuccess)

	eff.TestArchiveAfterCreation = ctx.cli.TestArchive || boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.TestArchiveAfterCreation }),
		ctx.job.TestArchiveAfterCreation)

	eff.VerifyLocalArchiveBeforeTransfer = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.VerifyLocalArchiveBeforeTransfer }),
		ctx.job.VerifyLocalArchiveBeforeTransfer)

	algo, err := ctx.reqString("ChecksumAlgorithm", "DefaultChecksumAlgorithm",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.ChecksumAlgorithm }),
		ctx.job.ChecksumAlgorithm,
		ctx.global.DefaultChecksumAlgorithm)
	if err != nil {
		return err
	}
	eff.ChecksumAlgorithm = strings.ToLower(algo)

	eff.GenerateChecksum = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.GenerateChecksum }),
		ctx.job.GenerateChecksum,
		ctx.global.GenerateChecksum)

	eff.GenerateContentsManifest = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.GenerateContentsManifest }),
		ctx.job.GenerateContentsManifest,
		ctx.global.GenerateContentsManifest)

	eff.GenerateSplitArchiveManifest = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.GenerateSplitArchiveManifest }),
		ctx.job.GenerateSplitArchiveManifest)

	// Pin: the CLI force switch wins, otherwise narrow coercion of the
	// first tier that sets the field at all.
	if ctx.cli.Pin {
		eff.PinOnCreation = true
	} else {
		pinRaw := ctx.job.PinOnCreation
		if ctx.setOv != nil && ctx.setOv.PinOnCreation != nil {
			pinRaw = ctx.setOv.PinOnCreation
		}
		eff.PinOnCreation = CoercePinFlag(pinRaw)
	}

	eff.MinimumFreeSpaceGB = intOr(0,
		fromSet(ctx.setOv, func(j *models.JobConfig) *int { return j.MinimumFreeSpaceGB }),
		ctx.job.MinimumFreeSpaceGB,
		ctx.global.MinimumFreeSpaceGB)
	eff.HaltOnLowSpace = boolOr(true,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.HaltOnLowSpace }),
		ctx.job.HaltOnLowSpace,
		ctx.global.HaltOnLowSpace)

	eff.DeleteLocalArchiveAfterSuccessfulTransfer = boolOr(false,
		fromSet(ctx.setOv, func(j *models.JobConfig) *bool { return j.DeleteLocalArchiveAfterSuccessfulTransfer }),
		ctx.job.DeleteLocalArchiveAfterSuccessfulTransfer)

	eff.PreBackupScript = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.PreBackupScript }),
		ctx.job.PreBackupScript)
	eff.PostBackupScript = stringOr("",
		fromSet(ctx.setOv, func(j *models.JobConfig) *string { return j.PostBackupScript }),
		ctx.job.PostBackupScript)

	// Log retention is one of the chains that includes the set tier.
	eff.LogRetentionCount = intOr(0,
		ctx.cli.LogRetentionCount,
		fromSet(ctx.setOv, func(j *models.JobConfig) *int { return j.LogRetentionCount }),
		ctx.job.LogRetentionCount,
		ctx.global.LogRetentionCount)

	eff.PostRunAction = mergePostRunAction(doc.PostRunActionDefaults, ctx.job.PostRunAction)
	eff.Notification = r.mergeNotification(ctx, doc)

	return nil
}

// mergePostRunAction overlays the job-level partial action onto the global
// defaults sub-field by sub-field. The overlay never replaces the whole
// object.
func mergePostRunAction(defaults models.PostRunAction, overlay *models.PostRunAction) models.EffectivePostRunAction {
	eff := models.EffectivePostRunAction{
		Action:       stringOr("None", defaults.Action),
		DelaySeconds: intOr(0, defaults.DelaySeconds),
		Command:      stringOr("", defaults.Command),
		Force:        boolOr(false, defaults.Force),
	}
	if overlay == nil {
		return eff
	}
	if overlay.Action != nil {
		eff.Action = *overlay.Action
	}
	if overlay.DelaySeconds != nil {
		eff.DelaySeconds = *overlay.DelaySeconds
	}
	if overlay.Command != nil {
		eff.Command = *overlay.Command
	}
	if overlay.Force != nil {
		eff.Force = *overlay.Force
	}
	return eff
}

// mergeNotification merges Global -> Set -> Job -> CLI. A CLI profile name
// also force-enables notifications.
func (r *Resolver) mergeNotification(ctx *resCtx, doc *models.Document) models.EffectiveNotification {
	layers := []*models.NotificationSettings{&doc.NotificationDefaults}
	if ctx.set != nil && ctx.set.Notification != nil {
		layers = append(layers, ctx.set.Notification)
	}
	if ctx.job.Notification != nil {
		layers = append(layers, ctx.job.Notification)
	}

	var eff models.EffectiveNotification
	eff.OnFailure = true
	for _, l := range layers {
		if l.Enabled != nil {
			eff.Enabled = *l.Enabled
		}
		if l.ProfileName != nil {
			eff.ProfileName = *l.ProfileName
		}
		if l.WebhookURL != nil {
			eff.WebhookURL = *l.WebhookURL
		}
		if l.OnSuccess != nil {
			eff.OnSuccess = *l.OnSuccess
		}
		if l.OnFailure != nil {
			eff.OnFailure = *l.OnFailure
		}
	}

	if ctx.cli.NotifyProfile != "" {
		eff.ProfileName = ctx.cli.NotifyProfile
		eff.Enabled = true
	}

	return eff
}

package models

import "time"

// EffectiveJobConfig is the fully resolved, single-tier settings object for
// one job run. Produced once per job by the resolver; read-only afterwards.
type EffectiveJobConfig struct {
	JobName     string
	SourcePaths []string

	DestinationDir       string
	OnSourcePathNotFound string // FailJob | SkipJob

	ArchiveBaseName string
	ArchiveType     string
	// ArchiveExtension is the effective extension; always "exe" when
	// CreateSFX is set, regardless of the configured value.
	ArchiveExtension string
	// InternalArchiveExtension is the configured extension. Split volumes
	// are named with it even in SFX mode.
	InternalArchiveExtension string
	ArchiveDateFormat        string // Go time layout, already converted
	CreateSFX                bool
	SFXModule                string
	SplitVolumeSize          string // 7-Zip -v value; empty for a single archive

	CompressionLevel  string // full switch, e.g. "-mx=5"
	CompressionMethod string
	DictionarySize    string
	WordSize          string
	SolidBlockSize    string
	ThreadCount       string // "-mmt=N" for N>0, "-mmt" for auto
	SevenZipPriority  string
	CPUAffinity       string
	IncludeListFile   string
	ExcludeListFile   string
	TempDir           string
	SevenZipPath      string

	PasswordSecretName string

	UseVSS               bool
	VSSContextOption     string
	VSSCacheFile         string
	VSSPollingTimeout    time.Duration
	VSSPollingInterval   time.Duration
	SnapshotProviderName string
	SourceIsVMName       bool

	EnableRetries                  bool
	MaxRetryAttempts               int
	RetryDelay                     time.Duration
	TreatSevenZipWarningsAsSuccess bool

	TestArchiveAfterCreation         bool
	VerifyLocalArchiveBeforeTransfer bool
	ChecksumAlgorithm                string
	GenerateChecksum                 bool
	GenerateContentsManifest         bool
	GenerateSplitArchiveManifest     bool
	PinOnCreation                    bool

	MinimumFreeSpaceGB int
	HaltOnLowSpace     bool

	// ResolvedTargets are clones from the BackupTargets registry, stamped
	// with their instance names. Unresolvable names were skipped with a
	// warning.
	ResolvedTargets                           []TargetConfig
	DeleteLocalArchiveAfterSuccessfulTransfer bool

	PreBackupScript  string
	PostBackupScript string

	PostRunAction     EffectivePostRunAction
	Notification      EffectiveNotification
	LogRetentionCount int

	DryRun bool
}

// EffectivePostRunAction is the concrete post-run action after the
// sub-field merge of defaults and job overlay.
type EffectivePostRunAction struct {
	Action       string // None | Shutdown | Hibernate | Custom
	DelaySeconds int
	Command      string
	Force        bool
}

// EffectiveNotification is the concrete notification configuration after
// the four-tier merge.
type EffectiveNotification struct {
	Enabled     bool
	ProfileName string
	WebhookURL  string
	OnSuccess   bool
	OnFailure   bool
}

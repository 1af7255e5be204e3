// Package models contains the data structures used throughout go7zbackup.
package models

// Document is the fully merged configuration document: the defaults file
// deep-merged with the optional user override file, decoded into typed form
// before any resolution logic runs.
type Document struct {
	Global                GlobalSettings                    `mapstructure:"Global"`
	BackupTargets         map[string]TargetConfig           `mapstructure:"BackupTargets"`
	BackupLocations       map[string]JobConfig              `mapstructure:"BackupLocations"`
	BackupSets            map[string]SetConfig              `mapstructure:"BackupSets"`
	SnapshotProviders     map[string]SnapshotProviderConfig `mapstructure:"SnapshotProviders"`
	PostRunActionDefaults PostRunAction                     `mapstructure:"PostRunActionDefaults"`
	NotificationDefaults  NotificationSettings              `mapstructure:"NotificationDefaults"`
}

// GlobalSettings holds the global default tier. Required defaults are plain
// values checked by the resolver; legitimately optional ones are pointers.
type GlobalSettings struct {
	SevenZipPath             string `mapstructure:"SevenZipPath"`
	DefaultDestinationDir    string `mapstructure:"DefaultDestinationDir"`
	DefaultArchiveType       string `mapstructure:"DefaultArchiveType"`
	DefaultArchiveExtension  string `mapstructure:"DefaultArchiveExtension"`
	DefaultArchiveDateFormat string `mapstructure:"DefaultArchiveDateFormat"`
	DefaultSFXModule         string `mapstructure:"DefaultSFXModule"`

	DefaultCompressionLevel  string `mapstructure:"DefaultCompressionLevel"`
	DefaultCompressionMethod string `mapstructure:"DefaultCompressionMethod"`
	DefaultDictionarySize    string `mapstructure:"DefaultDictionarySize"`
	DefaultWordSize          string `mapstructure:"DefaultWordSize"`
	DefaultSolidBlockSize    string `mapstructure:"DefaultSolidBlockSize"`
	DefaultThreadCount       *int   `mapstructure:"DefaultThreadCount"`
	DefaultSevenZipPriority  string `mapstructure:"DefaultSevenZipPriority"`
	DefaultCPUAffinity       string `mapstructure:"DefaultCPUAffinity"`
	DefaultTempDir           string `mapstructure:"DefaultTempDir"`

	DefaultUseVSS             *bool  `mapstructure:"DefaultUseVSS"`
	DefaultVSSContextOption   string `mapstructure:"DefaultVSSContextOption"`
	VSSMetadataCachePath      string `mapstructure:"VSSMetadataCachePath"`
	VSSPollingTimeoutSeconds  *int   `mapstructure:"VSSPollingTimeoutSeconds"`
	VSSPollingIntervalSeconds *int   `mapstructure:"VSSPollingIntervalSeconds"`

	EnableRetries                  *bool `mapstructure:"EnableRetries"`
	MaxRetryAttempts               *int  `mapstructure:"MaxRetryAttempts"`
	RetryDelaySeconds              *int  `mapstructure:"RetryDelaySeconds"`
	TreatSevenZipWarningsAsSuccess *bool `mapstructure:"TreatSevenZipWarningsAsSuccess"`

	DefaultChecksumAlgorithm string `mapstructure:"DefaultChecksumAlgorithm"`
	GenerateChecksum         *bool  `mapstructure:"GenerateChecksum"`
	GenerateContentsManifest *bool  `mapstructure:"GenerateContentsManifest"`
	MinimumFreeSpaceGB       *int   `mapstructure:"MinimumFreeSpaceGB"`
	HaltOnLowSpace           *bool  `mapstructure:"HaltOnLowSpace"`

	DefaultOnSourcePathNotFound string `mapstructure:"DefaultOnSourcePathNotFound"`

	LogDir                         string `mapstructure:"LogDir"`
	LogRetentionCount              *int   `mapstructure:"LogRetentionCount"`
	EnableAdvancedSchemaValidation bool   `mapstructure:"EnableAdvancedSchemaValidation"`
}

// JobConfig is one entry under BackupLocations. Every field other than
// SourcePaths is an override of a global default, so everything is optional
// at this tier.
type JobConfig struct {
	SourcePaths []string `mapstructure:"SourcePaths"`
	Enabled     *bool    `mapstructure:"Enabled"`

	DestinationDir       *string `mapstructure:"DestinationDir"`
	OnSourcePathNotFound *string `mapstructure:"OnSourcePathNotFound"`

	ArchiveBaseName   *string `mapstructure:"ArchiveBaseName"`
	ArchiveType       *string `mapstructure:"ArchiveType"`
	ArchiveExtension  *string `mapstructure:"ArchiveExtension"`
	ArchiveDateFormat *string `mapstructure:"ArchiveDateFormat"`
	CreateSFX         *bool   `mapstructure:"CreateSFX"`
	SFXModule         *string `mapstructure:"SFXModule"`
	SplitVolumeSize   *string `mapstructure:"SplitVolumeSize"`

	CompressionLevel  *string `mapstructure:"CompressionLevel"`
	CompressionMethod *string `mapstructure:"CompressionMethod"`
	DictionarySize    *string `mapstructure:"DictionarySize"`
	WordSize          *string `mapstructure:"WordSize"`
	SolidBlockSize    *string `mapstructure:"SolidBlockSize"`
	ThreadCount       *int    `mapstructure:"ThreadCount"`
	SevenZipPriority  *string `mapstructure:"SevenZipPriority"`
	CPUAffinity       *string `mapstructure:"CPUAffinity"`
	IncludeListFile   *string `mapstructure:"IncludeListFile"`
	ExcludeListFile   *string `mapstructure:"ExcludeListFile"`
	TempDir           *string `mapstructure:"TempDir"`

	PasswordSecretName *string `mapstructure:"PasswordSecretName"`

	UseVSS               *bool   `mapstructure:"UseVSS"`
	SnapshotProviderName *string `mapstructure:"SnapshotProviderName"`
	SourceIsVMName       *bool   `mapstructure:"SourceIsVMName"`

	EnableRetries                  *bool `mapstructure:"EnableRetries"`
	MaxRetryAttempts               *int  `mapstructure:"MaxRetryAttempts"`
	RetryDelaySeconds              *int  `mapstructure:"RetryDelaySeconds"`
	TreatSevenZipWarningsAsSuccess *bool `mapstructure:"TreatSevenZipWarningsAsSuccess"`

	TestArchiveAfterCreation         *bool   `mapstructure:"TestArchiveAfterCreation"`
	VerifyLocalArchiveBeforeTransfer *bool   `mapstructure:"VerifyLocalArchiveBeforeTransfer"`
	ChecksumAlgorithm                *string `mapstructure:"ChecksumAlgorithm"`
	GenerateChecksum                 *bool   `mapstructure:"GenerateChecksum"`
	GenerateContentsManifest         *bool   `mapstructure:"GenerateContentsManifest"`
	GenerateSplitArchiveManifest     *bool   `mapstructure:"GenerateSplitArchiveManifest"`

	// PinOnCreation accepts true, "true" or a non-zero integer; every other
	// value is falsy. Kept untyped so the narrow coercion can be applied.
	PinOnCreation any `mapstructure:"PinOnCreation"`

	MinimumFreeSpaceGB *int  `mapstructure:"MinimumFreeSpaceGB"`
	HaltOnLowSpace     *bool `mapstructure:"HaltOnLowSpace"`

	TargetNames                               []string `mapstructure:"TargetNames"`
	DeleteLocalArchiveAfterSuccessfulTransfer *bool    `mapstructure:"DeleteLocalArchiveAfterSuccessfulTransfer"`

	PreBackupScript  *string `mapstructure:"PreBackupScript"`
	PostBackupScript *string `mapstructure:"PostBackupScript"`

	PostRunAction     *PostRunAction        `mapstructure:"PostRunAction"`
	Notification      *NotificationSettings `mapstructure:"Notification"`
	LogRetentionCount *int                  `mapstructure:"LogRetentionCount"`
}

// SetConfig is one entry under BackupSets: a named job grouping with an
// error policy and optional shared overrides applied between the CLI and
// job tiers.
type SetConfig struct {
	JobNames      []string              `mapstructure:"JobNames"`
	OnErrorInJob  *string               `mapstructure:"OnErrorInJob"` // StopSet (default) | ContinueSet
	PostRunAction *PostRunAction        `mapstructure:"PostRunAction"`
	Notification  *NotificationSettings `mapstructure:"Notification"`
	Overrides     *JobConfig            `mapstructure:"Overrides"`
}

// TargetConfig is a named entry in the BackupTargets registry.
type TargetConfig struct {
	// InstanceName is not read from configuration; it is stamped onto the
	// clone handed to a job during target resolution.
	InstanceName string `mapstructure:"-"`

	Type string `mapstructure:"Type"` // UNC | SFTP

	// UNC targets.
	UNCPath string `mapstructure:"UNCPath"`

	// SFTP targets.
	Host      string `mapstructure:"Host"`
	Port      int    `mapstructure:"Port"`
	Username  string `mapstructure:"Username"`
	KeyPath   string `mapstructure:"KeyPath"`
	RemoteDir string `mapstructure:"RemoteDir"`

	WakeOnLAN *WakeConfig `mapstructure:"WakeOnLAN"` // nil if the host is always on
}

// WakeConfig describes how to wake a sleeping target host before transfer.
type WakeConfig struct {
	MACAddress     string `mapstructure:"MACAddress"`
	BroadcastIP    string `mapstructure:"BroadcastIP"`
	PollURL        string `mapstructure:"PollURL"`
	TimeoutSeconds int    `mapstructure:"TimeoutSeconds"`
}

// SnapshotProviderConfig is a named entry in the SnapshotProviders registry.
type SnapshotProviderConfig struct {
	Type           string            `mapstructure:"Type"` // e.g. HyperV
	TimeoutSeconds int               `mapstructure:"TimeoutSeconds"`
	Options        map[string]string `mapstructure:"Options"`
}

// PostRunAction describes what happens to the machine after a run. Fields
// are pointers because job-level entries are partial overlays merged
// sub-field by sub-field onto PostRunActionDefaults.
type PostRunAction struct {
	Action       *string `mapstructure:"Action"` // None | Shutdown | Hibernate | Custom
	DelaySeconds *int    `mapstructure:"DelaySeconds"`
	Command      *string `mapstructure:"Command"`
	Force        *bool   `mapstructure:"Force"`
}

// NotificationSettings configures report delivery. Merged across all four
// tiers; a CLI profile name force-enables notifications.
type NotificationSettings struct {
	Enabled     *bool   `mapstructure:"Enabled"`
	ProfileName *string `mapstructure:"ProfileName"`
	WebhookURL  *string `mapstructure:"WebhookURL"`
	OnSuccess   *bool   `mapstructure:"OnSuccess"`
	OnFailure   *bool   `mapstructure:"OnFailure"`
}

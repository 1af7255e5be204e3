package models

import "time"

// ArchiveStatus is the aggregate outcome of the local archive stage.
type ArchiveStatus string

const (
	StatusSuccess  ArchiveStatus = "SUCCESS"
	StatusWarnings ArchiveStatus = "WARNINGS"
	StatusFailure  ArchiveStatus = "FAILURE"
)

// Worse returns the more severe of two statuses.
func (s ArchiveStatus) Worse(other ArchiveStatus) ArchiveStatus {
	rank := map[ArchiveStatus]int{StatusSuccess: 0, StatusWarnings: 1, StatusFailure: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// PathDisposition is the verdict of path validation.
type PathDisposition int

const (
	DispositionProceed PathDisposition = iota
	DispositionSkipJob
	DispositionFailJob
)

func (d PathDisposition) String() string {
	switch d {
	case DispositionProceed:
		return "Proceed"
	case DispositionSkipJob:
		return "SkipJob"
	case DispositionFailJob:
		return "FailJob"
	}
	return "Unknown"
}

// ExecResult is the outcome of one archiver subprocess invocation.
type ExecResult struct {
	ExitCode     int
	ElapsedTime  time.Duration
	AttemptsMade int
	Output       string
}

// ArchiveEntry is one file listed from an archive's contents.
type ArchiveEntry struct {
	Path       string
	Size       int64
	Modified   string
	Attributes string
	CRC        string
}

// ArchiveOutcome is the aggregate result of the local archive stage.
type ArchiveOutcome struct {
	Status       ArchiveStatus
	ArchivePath  string // first volume when split
	FileName     string
	SizeBytes    int64
	Checksum     string
	ElapsedTime  time.Duration
	AttemptsMade int
	Tested       bool
	TestPassed   bool
	Verified     bool
	Pinned       bool
	Warnings     []string
}

// VSSPathsInUse maps each original source path to its shadow copy path.
// Owned by the run invocation; must be released on every exit path.
type VSSPathsInUse map[string]string

// SnapshotSession is an opaque handle to a provider-created snapshot.
type SnapshotSession struct {
	Success      bool
	SessionID    string
	ProviderType string
	ResourceName string
	MountPaths   []string
	ErrorMessage string
}

// SourceResolution is the output of source resolution: the final paths for
// the archiver plus the cleanup handles the caller must release.
type SourceResolution struct {
	SourcePaths []string
	VSSPaths    VSSPathsInUse    // nil if VSS was not used
	Snapshot    *SnapshotSession // nil if no snapshot provider was used
}

// WakeResult is the outcome of one wake-on-LAN attempt against a target
// host. Errors are carried in the struct; a failed wake is advisory and the
// transfer proceeds anyway.
type WakeResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// TransferOutcome is the result of transferring one file to one target.
type TransferOutcome struct {
	Success          bool
	RemotePath       string
	ErrorMessage     string
	TransferDuration time.Duration
	TransferSize     int64
}

// TargetTransferReport aggregates one target's outcomes across all staged
// files.
type TargetTransferReport struct {
	TargetName       string
	TargetType       string
	Status           string // Success | Failed | Skipped
	FilesTransferred int
	BytesTransferred int64
	ErrorMessage     string
}

// TransferSummary is the result of the whole remote transfer stage.
type TransferSummary struct {
	AllSucceeded bool
	StagedFiles  []string
	Targets      []TargetTransferReport
	LocalDeleted bool
}

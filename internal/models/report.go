package models

import "time"

// JobReport accumulates everything the final report needs about one job
// run. Exactly one stage writes to it at a time; jobs never run
// concurrently, so no locking is needed.
type JobReport struct {
	JobName   string
	RunID     string
	StartTime time.Time
	EndTime   time.Time

	Status      ArchiveStatus
	FailedStage string
	Error       string
	Warnings    []string

	VSSUsed           bool
	SnapshotUsed      bool
	SnapshotSessionID string
	SourcePaths       []string

	RetriesEnabled    bool
	ArchiveTested     bool
	ArchiveVerified   bool
	ChecksumAlgorithm string
	TargetCount       int
	Checksum          string
	ArchivePath       string
	ArchiveSizeBytes  int64
	AttemptsMade      int
	Pinned            bool

	Transfers    []TargetTransferReport
	LocalDeleted bool
}

// Warn appends a warning and degrades the status, never past WARNINGS.
func (r *JobReport) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
	r.Status = r.Status.Worse(StatusWarnings)
}

// ResolutionReport is the patch of report fields produced as a side effect
// of config resolution. The caller applies it; the resolver never aliases
// the accumulator.
type ResolutionReport struct {
	VSSUsed           bool
	SnapshotUsed      bool
	RetriesEnabled    bool
	ArchiveTested     bool
	ChecksumAlgorithm string
	TargetCount       int
}

// Apply merges the patch into the accumulator.
func (p ResolutionReport) Apply(r *JobReport) {
	r.VSSUsed = p.VSSUsed
	r.SnapshotUsed = p.SnapshotUsed
	r.RetriesEnabled = p.RetriesEnabled
	r.ArchiveTested = p.ArchiveTested
	r.ChecksumAlgorithm = p.ChecksumAlgorithm
	r.TargetCount = p.TargetCount
}

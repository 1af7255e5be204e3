package models

// RunMode tells the job resolver how it may interact with the operator.
type RunMode int

const (
	// RunModeInteractive allows the selection menu.
	RunModeInteractive RunMode = iota
	// RunModeNonInteractive means no terminal is attached; prompts resolve
	// to their safe default immediately.
	RunModeNonInteractive
	// RunModeQuiet suppresses prompts even on a terminal.
	RunModeQuiet
)

// CLIOverrides is the highest-precedence configuration tier, populated from
// command line flags. Skip switches short-circuit to false and force
// switches to true regardless of the lower tiers.
type CLIOverrides struct {
	JobName  string
	SetName  string
	SkipJobs []string

	UseVSS        bool
	SkipVSS       bool
	EnableRetries bool
	SkipRetries   bool
	TestArchive   bool
	Pin           bool

	Priority    string
	CPUAffinity string

	NotifyProfile     string
	LogRetentionCount *int

	DryRun         bool
	NonInteractive bool
}

package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/rs/zerolog"
)

const interactiveSelectionName = "(Interactive Selection)"

// JobPlan is the outcome of job resolution: the ordered, de-duplicated,
// filtered list of jobs to execute plus the set-level policies that apply.
type JobPlan struct {
	JobNames         []string
	SetName          string // empty when a single job was selected directly
	StopSetOnError   bool
	SetPostRunAction *models.PostRunAction

	// Set carries the set whose shared overrides participate in effective
	// config resolution. Nil for direct job selection and for ad-hoc
	// interactive unions.
	Set *models.SetConfig
}

// Selection is one entry chosen from the interactive menu.
type Selection struct {
	Name  string
	IsSet bool
}

// Prompter presents the combined job/set menu. Implementations must resolve
// deterministically (to no selection) when no operator answers in time.
type Prompter interface {
	Select(jobs, sets []string) ([]Selection, error)
}

// JobResolver determines which jobs a run executes.
type JobResolver struct {
	prompter Prompter
	logger   zerolog.Logger
}

// NewJobResolver creates a job resolver. prompter may be nil when the
// caller guarantees a non-interactive run mode.
func NewJobResolver(logger zerolog.Logger, prompter Prompter) *JobResolver {
	return &JobResolver{prompter: prompter, logger: logger}
}

// Resolve maps the CLI intent onto a job plan.
//
//nolint:gocognit,gocyclo // selection state machine has several branches by design
func (r *JobResolver) Resolve(doc *models.Document, cli models.CLIOverrides, mode models.RunMode) (*JobPlan, error) {
	plan := &JobPlan{StopSetOnError: true}

	switch {
	case cli.SetName != "":
		set, ok := doc.BackupSets[cli.SetName]
		if !ok {
			return nil, fmt.Errorf("backup set %q not found (available sets: %s)",
				cli.SetName, availableNames(doc.BackupSets))
		}
		r.applySet(plan, cli.SetName, &set)

	case cli.JobName != "":
		if _, ok := doc.BackupLocations[cli.JobName]; !ok {
			return nil, fmt.Errorf("backup job %q not found (available jobs: %s)",
				cli.JobName, availableNames(doc.BackupLocations))
		}
		plan.JobNames = []string{cli.JobName}

	default:
		if err := r.resolveUnspecified(doc, mode, plan); err != nil {
			return nil, err
		}
	}

	plan.JobNames = dedupe(plan.JobNames)
	plan.JobNames = r.filterDisabled(doc, plan.JobNames)
	plan.JobNames = r.filterSkipped(plan.JobNames, cli.SkipJobs)

	if len(plan.JobNames) == 0 {
		return nil, fmt.Errorf("no valid enabled jobs to run")
	}

	return plan, nil
}

func (r *JobResolver) applySet(plan *JobPlan, name string, set *models.SetConfig) {
	plan.JobNames = append(plan.JobNames, set.JobNames...)
	plan.SetName = name
	plan.StopSetOnError = set.OnErrorInJob == nil || *set.OnErrorInJob == "StopSet"
	plan.SetPostRunAction = set.PostRunAction
	plan.Set = set
}

func (r *JobResolver) resolveUnspecified(doc *models.Document, mode models.RunMode, plan *JobPlan) error {
	if len(doc.BackupLocations) == 0 {
		return fmt.Errorf("no backup jobs defined in configuration")
	}

	// A single job and no sets needs no menu.
	if len(doc.BackupLocations) == 1 && len(doc.BackupSets) == 0 {
		for name := range doc.BackupLocations {
			r.logger.Info().Str("job", name).Msg("auto-selecting the only configured job")
			plan.JobNames = []string{name}
		}
		return nil
	}

	if mode != models.RunModeInteractive || r.prompter == nil {
		return fmt.Errorf("multiple jobs or sets configured; select one with --job or --set")
	}

	selections, err := r.prompter.Select(
		sortedNames(doc.BackupLocations), sortedNames(doc.BackupSets))
	if err != nil {
		return fmt.Errorf("interactive selection: %w", err)
	}
	if len(selections) == 0 {
		return fmt.Errorf("nothing selected")
	}

	// A single selected set behaves exactly like --set.
	if len(selections) == 1 && selections[0].IsSet {
		set := doc.BackupSets[selections[0].Name]
		r.applySet(plan, selections[0].Name, &set)
		return nil
	}

	// An ad-hoc union has no declared error policy, so the safe StopSet
	// default applies and no set overrides participate.
	for _, sel := range selections {
		if sel.IsSet {
			set, ok := doc.BackupSets[sel.Name]
			if !ok {
				return fmt.Errorf("selected set %q not found", sel.Name)
			}
			plan.JobNames = append(plan.JobNames, set.JobNames...)
			continue
		}
		if _, ok := doc.BackupLocations[sel.Name]; !ok {
			return fmt.Errorf("selected job %q not found", sel.Name)
		}
		plan.JobNames = append(plan.JobNames, sel.Name)
	}
	plan.SetName = interactiveSelectionName
	plan.StopSetOnError = true
	return nil
}

func (r *JobResolver) filterDisabled(doc *models.Document, names []string) []string {
	kept := names[:0]
	for _, name := range names {
		job := doc.BackupLocations[name]
		if job.Enabled != nil && !*job.Enabled {
			r.logger.Info().Str("job", name).Msg("skipping disabled job")
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

func (r *JobResolver) filterSkipped(names, skipList []string) []string {
	if len(skipList) == 0 {
		return names
	}
	skip := make(map[string]bool, len(skipList))
	for _, s := range skipList {
		skip[s] = true
	}
	kept := names[:0]
	for _, name := range names {
		if skip[name] {
			r.logger.Info().Str("job", name).Msg("skipping job per command line")
			continue
		}
		kept = append(kept, name)
	}
	return kept
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func availableNames[V any](m map[string]V) string {
	return strings.Join(sortedNames(m), ", ")
}

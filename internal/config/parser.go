package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Parser loads the defaults file and the optional user override file,
// deep-merges them and decodes the result into the typed document.
type Parser struct{}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	return &Parser{}
}

// Load reads the defaults file and, if userPath is non-empty, the user
// override file. The override tree wins wherever both define a value.
func (p *Parser) Load(defaultsPath, userPath string) (*models.Document, error) {
	base, err := readTree(defaultsPath)
	if err != nil {
		return nil, fmt.Errorf("reading defaults file: %w", err)
	}

	merged := base
	if userPath != "" {
		override, err := readTree(userPath)
		if err != nil {
			return nil, fmt.Errorf("reading user override file: %w", err)
		}
		merged = Merge(base, override)
	}

	return p.Decode(merged)
}

// LoadReaders parses both trees from strings (useful for testing).
func (p *Parser) LoadReaders(defaults, user string) (*models.Document, error) {
	base, err := parseTree(defaults)
	if err != nil {
		return nil, fmt.Errorf("reading defaults: %w", err)
	}

	merged := base
	if user != "" {
		override, err := parseTree(user)
		if err != nil {
			return nil, fmt.Errorf("reading user override: %w", err)
		}
		merged = Merge(base, override)
	}

	return p.Decode(merged)
}

// Decode converts a merged configuration tree into the typed document. All
// type checking happens here, once, so the resolvers never see untyped maps.
func (p *Parser) Decode(tree map[string]any) (*models.Document, error) {
	doc := &models.Document{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           doc,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("building config decoder: %w", err)
	}

	if err := decoder.Decode(tree); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	expandPaths(doc)

	return doc, nil
}

func readTree(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func parseTree(content string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

// expandPaths expands ${VAR} references in the path-bearing settings, the
// same way secrets are referenced in the config files.
func expandPaths(doc *models.Document) {
	doc.Global.SevenZipPath = os.ExpandEnv(doc.Global.SevenZipPath)
	doc.Global.DefaultDestinationDir = os.ExpandEnv(doc.Global.DefaultDestinationDir)
	doc.Global.DefaultTempDir = os.ExpandEnv(doc.Global.DefaultTempDir)
	doc.Global.LogDir = os.ExpandEnv(doc.Global.LogDir)

	for name, target := range doc.BackupTargets {
		target.UNCPath = os.ExpandEnv(target.UNCPath)
		target.KeyPath = os.ExpandEnv(target.KeyPath)
		doc.BackupTargets[name] = target
	}
}

// Validate checks the structural invariants of a decoded document: jobs
// have sources, sets reference known jobs and targets carry a type. Value
// level resolution errors are the resolver's job, not the parser's.
func Validate(doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("configuration is nil")
	}

	for name, job := range doc.BackupLocations {
		if len(job.SourcePaths) == 0 {
			return fmt.Errorf("job %q: SourcePaths is required", name)
		}
	}

	for name, set := range doc.BackupSets {
		if len(set.JobNames) == 0 {
			return fmt.Errorf("set %q: JobNames is required", name)
		}
		for _, jobName := range set.JobNames {
			if _, ok := doc.BackupLocations[jobName]; !ok {
				return fmt.Errorf("set %q references unknown job %q (available: %s)",
					name, jobName, strings.Join(sortedKeys(doc.BackupLocations), ", "))
			}
		}
		if set.OnErrorInJob != nil {
			policy := *set.OnErrorInJob
			if policy != "StopSet" && policy != "ContinueSet" {
				return fmt.Errorf("set %q: OnErrorInJob must be StopSet or ContinueSet", name)
			}
		}
	}

	for name, target := range doc.BackupTargets {
		if target.Type == "" {
			return fmt.Errorf("target %q: Type is required", name)
		}
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

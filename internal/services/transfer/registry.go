// Package transfer moves staged backup files to the configured remote
// targets and conditionally cleans up the local copies.
package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hfischer/go7zbackup/internal/models"
)

// JobMetadata identifies the backup instance a transferred file belongs to.
type JobMetadata struct {
	JobName         string
	RunID           string
	ArchiveBaseName string
}

// Provider transfers one local file to one target. Outcomes carry their own
// error message; an error return is reserved for context cancellation.
type Provider interface {
	Transfer(ctx context.Context, localPath string, target models.TargetConfig, meta JobMetadata) models.TransferOutcome
}

// Registry maps target type names to providers. Built once at startup and
// resolved per target, replacing the old per-transfer module loading by
// string-formatted filename.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider for a target type.
func (r *Registry) Register(typeName string, p Provider) {
	r.providers[strings.ToUpper(typeName)] = p
}

// Lookup resolves a provider for a target type.
func (r *Registry) Lookup(typeName string) (Provider, error) {
	p, ok := r.providers[strings.ToUpper(typeName)]
	if !ok {
		names := make([]string, 0, len(r.providers))
		for n := range r.providers {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("no transfer provider for target type %q (registered: %s)",
			typeName, strings.Join(names, ", "))
	}
	return p, nil
}

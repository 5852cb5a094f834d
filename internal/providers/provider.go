// Package providers abstracts the external generation services an asset job
// can run against. Each provider translates a normalized request into one
// vendor API call and reports failures classified as transient or permanent,
// because the worker runtime retries only what the provider says is worth
// retrying.
package providers

import (
	"context"
	"fmt"

	"lorekeeper/internal/domain"
)

// GenerateRequest is the normalized request passed to any provider.
type GenerateRequest struct {
	JobID      string
	WorldID    string
	AssetType  domain.AssetType
	ModelID    string
	PromptSpec map[string]any
}

// Artifact is a generated blob plus the metadata persisted with it.
type Artifact struct {
	Data            []byte
	Format          string
	ContentType     string
	DurationSeconds int
}

// Generator is the contract implemented by all generation providers.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Artifact, error)
}

// Error is a classified provider failure. Transient failures are retried via
// queue redelivery; permanent ones fail the job.
type Error struct {
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a permanent provider error.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transientf builds a transient provider error.
func Transientf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Transient: true}
}

// Registry maps provider names to generators. It is populated once at worker
// startup, so the available provider set is fixed and auditable.
type Registry struct {
	generators map[string]Generator
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]Generator)}
}

// Register binds a provider name. Later registrations win, which lets tests
// and local runs shadow real providers with synthetic ones.
func (r *Registry) Register(name string, g Generator) {
	r.generators[name] = g
}

// Resolve returns the generator for a provider name. An unknown provider is a
// permanent error: redelivery cannot fix a name no worker recognizes.
func (r *Registry) Resolve(name string) (Generator, error) {
	g, ok := r.generators[name]
	if !ok {
		return nil, Errorf("PROVIDER_UNKNOWN", "no generator registered for provider %q", name)
	}
	return g, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for name := range r.generators {
		names = append(names, name)
	}
	return names
}

// Package provider wraps external video generation services behind a uniform
// submit/poll contract and tries them in priority order.
package provider

import (
	"context"
	"fmt"
	"sort"

	"reelforge/internal/app/model"
	"reelforge/internal/apperr"
)

// Status is the canonical state of a remote generation request.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Params carries everything an adapter may need to submit a request.
type Params struct {
	JobID           string
	Kind            model.JobKind
	Title           string
	Scenes          []model.Scene
	Prompt          string
	Script          string
	AvatarID        string
	AvatarImageURL  string
	VoiceID         string
	AspectRatio     string
	DurationSeconds int
	CallbackURL     string
}

type Result struct {
	Status    Status
	ResultURL string
	Error     string
}

// Submission identifies an accepted request at a specific provider.
type Submission struct {
	Provider   string
	ExternalID string
}

// Adapter is implemented by every provider integration. Native status
// vocabularies are translated to Status inside Poll. Submit returns an
// *apperr.Error of kind validation when the input itself was rejected.
type Adapter interface {
	Name() string
	Supports(kind model.JobKind) bool
	Submit(ctx context.Context, p Params) (string, error)
	Poll(ctx context.Context, externalID string) (*Result, error)
}

// Registry is the lookup table of adapters built once at startup.
type Registry struct {
	adapters map[string]Adapter
	chains   map[model.JobKind][]string
}

// NewRegistry indexes adapters by name and validates the per-kind chains.
// Every name in a chain must be registered and support that kind.
func NewRegistry(adapters []Adapter, chains map[model.JobKind][]string) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		chains:   make(map[model.JobKind][]string, len(chains)),
	}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", a.Name())
		}
		r.adapters[a.Name()] = a
	}
	for kind, names := range chains {
		if !kind.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("unknown job kind %q in provider chains", kind))
		}
		for _, name := range names {
			a, err := r.Lookup(name)
			if err != nil {
				return nil, err
			}
			if !a.Supports(kind) {
				return nil, apperr.Validation(fmt.Sprintf("provider %q does not support %s", name, kind))
			}
		}
		r.chains[kind] = append([]string(nil), names...)
	}
	return r, nil
}

// Lookup fails closed for names that were never registered.
func (r *Registry) Lookup(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown provider %q", name))
	}
	return a, nil
}

// Candidates returns adapters for kind in priority order. A non-empty preferred
// list replaces the configured chain.
func (r *Registry) Candidates(kind model.JobKind, preferred []string) ([]Adapter, error) {
	names := preferred
	if len(names) == 0 {
		names = r.chains[kind]
	}
	if len(names) == 0 {
		return nil, apperr.Validation(fmt.Sprintf("no providers configured for %s", kind))
	}

	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.Lookup(name)
		if err != nil {
			return nil, err
		}
		if !a.Supports(kind) {
			return nil, apperr.Validation(fmt.Sprintf("provider %q does not support %s", name, kind))
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

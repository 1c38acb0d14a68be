package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/live"
)

// ErrProviderNotRegistered is returned by the Create methods when nothing is
// registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// RemoteFactory builds a remote speech service from its config entry.
type RemoteFactory func(ctx context.Context, entry ProviderEntry) (live.Provider, error)

// InputFactory builds a microphone backend.
type InputFactory func(entry DeviceEntry) (audio.Input, error)

// OutputFactory builds a speaker backend.
type OutputFactory func(entry DeviceEntry) (audio.Output, error)

// factories is one name → constructor table.
type factories[F any] map[string]F

func (f factories[F]) names() []string {
	out := make([]string, 0, len(f))
	for n := range f {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps implementation names to constructors. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	remotes factories[RemoteFactory]
	inputs  factories[InputFactory]
	outputs factories[OutputFactory]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		remotes: make(factories[RemoteFactory]),
		inputs:  make(factories[InputFactory]),
		outputs: make(factories[OutputFactory]),
	}
}

// RegisterRemote registers a remote service factory under name. A later
// registration under the same name replaces the earlier one.
func (r *Registry) RegisterRemote(name string, f RemoteFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[name] = f
}

// RegisterInput registers a microphone backend under name.
func (r *Registry) RegisterInput(name string, f InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = f
}

// RegisterOutput registers a speaker backend under name.
func (r *Registry) RegisterOutput(name string, f OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = f
}

// CreateRemote builds the remote service named by entry.Name.
func (r *Registry) CreateRemote(ctx context.Context, entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	f, ok := r.remotes[entry.Name]
	known := r.remotes.names()
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: remote/%q (registered: %v)", ErrProviderNotRegistered, entry.Name, known)
	}
	p, err := f(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("config: create remote %q: %w", entry.Name, err)
	}
	return p, nil
}

// CreateInput builds the microphone backend named by entry.Backend.
func (r *Registry) CreateInput(entry DeviceEntry) (audio.Input, error) {
	r.mu.RLock()
	f, ok := r.inputs[entry.Backend]
	known := r.inputs.names()
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q (registered: %v)", ErrProviderNotRegistered, entry.Backend, known)
	}
	in, err := f(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create input %q: %w", entry.Backend, err)
	}
	return in, nil
}

// CreateOutput builds the speaker backend named by entry.Backend.
func (r *Registry) CreateOutput(entry DeviceEntry) (audio.Output, error) {
	r.mu.RLock()
	f, ok := r.outputs[entry.Backend]
	known := r.outputs.names()
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q (registered: %v)", ErrProviderNotRegistered, entry.Backend, known)
	}
	out, err := f(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create output %q: %w", entry.Backend, err)
	}
	return out, nil
}

package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/racecomm/pkg/audio"
)

// ErrBackendNotRegistered is returned by [Registry.CreateAudio] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: audio backend not registered")

// AudioBackend is what an audio backend factory returns: device discovery,
// graph creation, and a way to release the host audio context.
type AudioBackend interface {
	audio.Enumerator
	audio.GraphFactory
	Close() error
}

// AudioFactory constructs an [AudioBackend] from the audio section.
type AudioFactory func(AudioConfig) (AudioBackend, error)

// Registry maps backend names to their constructors. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	audio map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{audio: make(map[string]AudioFactory)}
}

// RegisterAudio registers an audio backend factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// AudioBackends returns the registered backend names, sorted.
func (r *Registry) AudioBackends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.audio))
	for name := range r.audio {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CreateAudio instantiates the backend registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (AudioBackend, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

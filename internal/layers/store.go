// Package layers holds the in-memory registry of layer descriptors.
package layers

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rubmoyanop/lost-frequencies-nasa-space-apps-challenge-2025/internal/core/model"
)

var (
	ErrNotFound    = errors.New("layer not found")
	ErrDuplicateID = errors.New("duplicate layer id")
)

// Store owns the descriptors. Every read returns copies, so callers can never
// mutate state behind the store's back.
type Store struct {
	mu      sync.RWMutex
	layers  []model.Descriptor
	version uint64
}

// New builds a store from specs, applying the same defaults as Add.
func New(specs []model.LayerSpec) (*Store, error) {
	s := &Store{}
	for _, sp := range specs {
		if _, err := s.Add(sp); err != nil {
			return nil, err
		}
	}
	s.version = 0
	return s, nil
}

// Version increases on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Layers() []model.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.layers)
}

func (s *Store) Visible() []model.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Descriptor
	for _, d := range s.layers {
		if d.Visible {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (s *Store) Get(id string) (model.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.index(id)
	if i < 0 {
		return model.Descriptor{}, false
	}
	return s.layers[i].Clone(), true
}

// Toggle flips visibility, or sets it when visible is non-nil.
func (s *Store) Toggle(id string, visible *bool) (model.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return model.Descriptor{}, fmt.Errorf("toggle %q: %w", id, ErrNotFound)
	}
	if visible != nil {
		s.layers[i].Visible = *visible
	} else {
		s.layers[i].Visible = !s.layers[i].Visible
	}
	s.version++
	return s.layers[i].Clone(), nil
}

func (s *Store) ShowAll() { s.setAll(true) }

func (s *Store) HideAll() { s.setAll(false) }

func (s *Store) setAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.layers {
		s.layers[i].Visible = v
	}
	s.version++
}

// Add appends a layer. Missing id and name default to "layer-<i>" and
// "Layer <i+1>" where i is the new layer's position.
func (s *Store) Add(spec model.LayerSpec) (model.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := spec.Normalize(len(s.layers))
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("add layer: %w", err)
	}
	if s.index(d.ID) >= 0 {
		return model.Descriptor{}, fmt.Errorf("add layer %q: %w", d.ID, ErrDuplicateID)
	}
	s.layers = append(s.layers, d)
	s.version++
	return d.Clone(), nil
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	s.layers = slices.Delete(s.layers, i, i+1)
	s.version++
	return nil
}

// SetOptions shallow-merges patch into the layer's options.
func (s *Store) SetOptions(id string, patch model.LayerOptions) (model.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return model.Descriptor{}, fmt.Errorf("set options %q: %w", id, ErrNotFound)
	}
	s.layers[i].Options = s.layers[i].Options.Merge(patch)
	s.version++
	return s.layers[i].Clone(), nil
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.layers, func(d model.Descriptor) bool { return d.ID == id })
}

func cloneAll(in []model.Descriptor) []model.Descriptor {
	out := make([]model.Descriptor, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

// Package profiles persists registry connection profiles as a JSON list in
// the key-value store.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/chis/regview/internal/registry"
	"github.com/chis/regview/internal/storage"
)

// Key is the storage key holding the profile list.
const Key = "docker-registries"

// ErrNotFound is returned for an unknown profile id.
var ErrNotFound = errors.New("registry profile not found")

// Store reads and writes profiles. Writes are serialized per Store so
// concurrent Add/Remove calls do not lose updates.
type Store struct {
	kv    storage.Storage
	mu    sync.Mutex
	newID func() string
}

// NewStore returns a Store backed by kv.
func NewStore(kv storage.Storage) *Store {
	return &Store{kv: kv, newID: uuid.NewString}
}

// List returns every profile in insertion order.
func (s *Store) List(ctx context.Context) ([]registry.Descriptor, error) {
	raw, found, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry profiles: %w", err)
	}
	if !found || raw == "" {
		return []registry.Descriptor{}, nil
	}

	var list []registry.Descriptor
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("failed to decode registry profiles: %w", err)
	}
	if list == nil {
		list = []registry.Descriptor{}
	}
	return list, nil
}

// Get returns the profile with id.
func (s *Store) Get(ctx context.Context, id string) (registry.Descriptor, error) {
	list, err := s.List(ctx)
	if err != nil {
		return registry.Descriptor{}, err
	}
	for _, d := range list {
		if d.ID == id {
			return d, nil
		}
	}
	return registry.Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Add validates d, assigns it a fresh id and appends it.
func (s *Store) Add(ctx context.Context, d registry.Descriptor) (registry.Descriptor, error) {
	d, err := registry.NewDescriptor(d)
	if err != nil {
		return registry.Descriptor{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.List(ctx)
	if err != nil {
		return registry.Descriptor{}, err
	}
	d.ID = s.newID()
	list = append(list, d)

	if err := s.save(ctx, list); err != nil {
		return registry.Descriptor{}, err
	}
	return d, nil
}

// Remove deletes the profile with id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.List(ctx)
	if err != nil {
		return err
	}

	kept := list[:0]
	removed := false
	for _, d := range list {
		if d.ID == id {
			removed = true
			continue
		}
		kept = append(kept, d)
	}
	if !removed {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.save(ctx, kept)
}

func (s *Store) save(ctx context.Context, list []registry.Descriptor) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode registry profiles: %w", err)
	}
	if err := s.kv.Set(ctx, Key, string(data)); err != nil {
		return fmt.Errorf("failed to save registry profiles: %w", err)
	}
	return nil
}

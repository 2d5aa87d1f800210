// Package state keeps caller-opaque values alive across reload cycles.
//
// Reloadable code registers its state under a key. Before a reload the agent captures a snapshot,
// afterwards it restores it: for keys present in the snapshot the pre-reload value wins over any
// registration made during the reload window.
package state

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"
)

type (
	// Entry is one preserved value.
	Entry struct {
		Key       string    `json:"key" cbor:"1,keyasint"`
		Data      []byte    `json:"data" cbor:"2,keyasint"`
		Type      string    `json:"type" cbor:"3,keyasint"` //advisory, for mismatch detection only
		UpdatedAt time.Time `json:"updated_at" cbor:"4,keyasint"`
	}
	// Registry is a concurrent map from key to Entry.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]Entry
	}
	// Snapshot is a point-in-time copy of a Registry.
	Snapshot struct {
		TakenAt time.Time
		entries map[string]Entry
	}
)

// NewRegistry create an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register data under key, overwriting any previous value.
func (r *Registry) Register(key string, data []byte, typeTag string) {
	e := Entry{Key: key, Data: slices.Clone(data), Type: typeTag, UpdatedAt: time.Now()}
	r.mu.Lock()
	r.entries[key] = e
	r.mu.Unlock()
}

// Get a copy of the data stored under key.
func (r *Registry) Get(key string) ([]byte, bool) {
	e, ok := r.Lookup(key)
	return e.Data, ok
}

// Lookup a copy of the entry stored under key.
func (r *Registry) Lookup(key string) (e Entry, ok bool) {
	r.mu.RLock()
	e, ok = r.entries[key]
	r.mu.RUnlock()
	e.Data = slices.Clone(e.Data)
	return
}

// Keys in lexical order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	v := slices.Collect(maps.Keys(r.entries))
	r.mu.RUnlock()
	slices.Sort(v)
	return v
}

// Len of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	clear(r.entries)
	r.mu.Unlock()
}

// Capture a snapshot of every entry.
func (r *Registry) Capture() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Snapshot{TakenAt: time.Now(), entries: maps.Clone(r.entries)}
}

// Restore writes every snapshot entry back. Keys registered after the capture and absent from the
// snapshot are kept; keys present in both take the snapshot value.
func (r *Registry) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	r.mu.Lock()
	maps.Copy(r.entries, s.entries)
	r.mu.Unlock()
}

// MarshalJSON encodes every entry as a JSON object keyed by entry key.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return json.Marshal(r.entries)
}

// NewSnapshot create a snapshot from entries, used when reading persisted state.
func NewSnapshot(takenAt time.Time, entries ...Entry) *Snapshot {
	s := &Snapshot{TakenAt: takenAt, entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		s.entries[e.Key] = e
	}
	return s
}

// Len of captured entries.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Entries in key order.
func (s *Snapshot) Entries() []Entry {
	v := slices.Collect(maps.Values(s.entries))
	slices.SortFunc(v, func(a, b Entry) int { return cmp.Compare(a.Key, b.Key) })
	return v
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry, created on first use.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// pkg/keystore/memory.go

package keystore

import (
	"context"
	"sync"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
)

// MemoryStore keeps keys in process memory. Used for tests and for agents
// running without a persistence backend; material does not survive process
// exit.
type MemoryStore struct {
	mu   sync.RWMutex
	keys map[string]memoryKey
}

type memoryKey struct {
	entry    Entry
	material []byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]memoryKey)}
}

// Store copies the material under the write lock, so a concurrent Retrieve
// observes either the previous complete value or the new one.
func (s *MemoryStore) Store(_ context.Context, entry Entry, material *securebuf.Buffer) error {
	if err := ValidateID(entry.ID); err != nil {
		return cerr.Wrap(err, "store")
	}
	if material.IsEmpty() {
		return cerr.New("store: key material is empty")
	}

	entry = touch(entry)
	entry.Metadata = cloneMetadata(entry.Metadata)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		return cerr.New("store: memory store is closed")
	}
	if old, ok := s.keys[entry.ID]; ok {
		securebuf.Zero(old.material)
	}
	s.keys[entry.ID] = memoryKey{entry: entry, material: material.Bytes()}
	return nil
}

func (s *MemoryStore) Retrieve(_ context.Context, id string) (*securebuf.Buffer, Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return nil, Entry{}, cerr.Wrapf(ErrNotFound, "retrieve %q", id)
	}
	entry := k.entry
	entry.Metadata = cloneMetadata(entry.Metadata)
	return securebuf.New(k.material), entry, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return cerr.Wrapf(ErrNotFound, "delete %q", id)
	}
	securebuf.Zero(k.material)
	delete(s.keys, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.keys))
	for _, k := range s.keys {
		entry := k.entry
		entry.Metadata = cloneMetadata(entry.Metadata)
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

// Close wipes all held material. The store rejects writes afterwards.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, k := range s.keys {
		securebuf.Zero(k.material)
		delete(s.keys, id)
	}
	s.keys = nil
	return nil
}

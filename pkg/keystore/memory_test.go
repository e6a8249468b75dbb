// pkg/keystore/memory_test.go

package keystore

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	entry := Entry{
		ID:       "backup-master",
		Kind:     KindSymmetric,
		Metadata: map[string]string{"purpose": "repository"},
	}
	material := securebuf.New([]byte("0123456789abcdef0123456789abcdef"))

	require.NoError(t, s.Store(ctx, entry, material))

	got, gotEntry, err := s.Retrieve(ctx, "backup-master")
	require.NoError(t, err)
	assert.True(t, got.Equal(material))
	assert.Equal(t, KindSymmetric, gotEntry.Kind)
	assert.Equal(t, "repository", gotEntry.Metadata["purpose"])
	assert.False(t, gotEntry.CreatedAt.IsZero(), "store must stamp creation time")
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, _, err := s.Retrieve(ctx, "missing")
	assert.True(t, cerr.Is(err, ErrNotFound), "got %v", err)

	err = s.Delete(ctx, "missing")
	assert.True(t, cerr.Is(err, ErrNotFound), "got %v", err)
}

func TestMemoryStoreUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	entry := Entry{ID: "rotating", Kind: KindSymmetric}
	require.NoError(t, s.Store(ctx, entry, securebuf.FromString("old material bytes")))
	require.NoError(t, s.Store(ctx, entry, securebuf.FromString("new material bytes")))

	got, _, err := s.Retrieve(ctx, "rotating")
	require.NoError(t, err)
	assert.True(t, got.Equal(securebuf.FromString("new material bytes")))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "upsert must not duplicate entries")
}

func TestMemoryStoreValidation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	err := s.Store(ctx, Entry{ID: ""}, securebuf.FromString("material"))
	assert.Error(t, err, "empty id must be rejected")

	err = s.Store(ctx, Entry{ID: "../escape"}, securebuf.FromString("material"))
	assert.Error(t, err, "path characters must be rejected")

	err = s.Store(ctx, Entry{ID: "valid-id"}, securebuf.New(nil))
	assert.Error(t, err, "empty material must be rejected")
}

func TestMemoryStoreListSorted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	for _, id := range []string{"zulu", "alpha", "mike"} {
		require.NoError(t, s.Store(ctx, Entry{ID: id, Kind: KindSymmetric}, securebuf.FromString("material-"+id)))
	}

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "alpha", entries[0].ID)
	assert.Equal(t, "mike", entries[1].ID)
	assert.Equal(t, "zulu", entries[2].ID)
}

func TestMemoryStoreRetrievedMaterialIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Store(ctx, Entry{ID: "iso", Kind: KindSymmetric}, securebuf.FromString("original material!")))

	got, _, err := s.Retrieve(ctx, "iso")
	require.NoError(t, err)
	got.Wipe()

	again, _, err := s.Retrieve(ctx, "iso")
	require.NoError(t, err)
	assert.True(t, again.Equal(securebuf.FromString("original material!")),
		"wiping a retrieved copy must not corrupt the stored material")
}

// TestMemoryStoreNoTornReads hammers one identifier with two distinct
// full-buffer patterns while readers check they only ever observe a
// complete pattern, never a mix.
func TestMemoryStoreNoTornReads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	pattern := func(b byte) *securebuf.Buffer {
		return securebuf.New(bytes.Repeat([]byte{b}, 64))
	}
	require.NoError(t, s.Store(ctx, Entry{ID: "contended", Kind: KindSymmetric}, pattern(0xAA)))

	stop := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			b := byte(0xAA)
			if i%2 == 1 {
				b = 0xBB
			}
			if err := s.Store(ctx, Entry{ID: "contended", Kind: KindSymmetric}, pattern(b)); err != nil {
				t.Errorf("store: %v", err)
				return
			}
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 200; i++ {
				got, _, err := s.Retrieve(ctx, "contended")
				if err != nil {
					t.Errorf("retrieve: %v", err)
					return
				}
				raw := got.Bytes()
				first := raw[0]
				for _, v := range raw {
					if v != first {
						t.Errorf("torn read: mixed pattern %x", raw)
						return
					}
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	writer.Wait()
}

// pkg/keystore/keystore.go

// Package keystore persists key material behind opaque string identifiers.
// Standard and Complete tier operations reference keys by identifier
// instead of shipping raw bytes across the process boundary; this package
// is the privileged side's collaborator that makes that possible.
//
// Implementations must serialize writes per key and never return
// partially written material. Errors here are plain storage errors; the
// agent layer maps them into the security taxonomy at the contract surface.
package keystore

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
)

// ErrNotFound reports an identifier with no stored key.
var ErrNotFound = cerr.New("keystore: key not found")

// Key kinds recorded on entries.
const (
	KindSymmetric = "symmetric"
	KindPublic    = "public"
	KindPrivate   = "private"
)

// Entry is the metadata stored alongside key material. Listing and
// auditing read entries without ever touching material.
type Entry struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the key persistence contract. Store is an upsert: writing an
// existing identifier replaces its material and entry atomically.
type Store interface {
	Store(ctx context.Context, entry Entry, material *securebuf.Buffer) error
	Retrieve(ctx context.Context, id string) (*securebuf.Buffer, Entry, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

const maxIDLength = 128

// ValidateID checks that an identifier is usable across every backend:
// non-empty, bounded, and free of path separators so it cannot escape a
// storage prefix.
func ValidateID(id string) error {
	if id == "" {
		return cerr.New("key identifier is empty")
	}
	if len(id) > maxIDLength {
		return cerr.Newf("key identifier exceeds %d characters", maxIDLength)
	}
	if !idPattern.MatchString(id) {
		return cerr.Newf("key identifier %q contains invalid characters", id)
	}
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

func cloneMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// touch fills CreatedAt when the caller did not.
func touch(entry Entry) Entry {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}

//go:build !linux && !darwin

// pkg/securebuf/locked_fallback.go

package securebuf

import (
	"fmt"
	"sync"
)

// Locked falls back to a heap-backed buffer on platforms without mlock
// support. The API matches the unix implementation so callers do not
// branch on platform; the swap/core-dump protections simply do not apply.
type Locked struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewLocked copies source and zeroes the caller's slice.
func NewLocked(source []byte) (*Locked, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("securebuf: cannot lock empty source")
	}
	copied := make([]byte, len(source))
	copy(copied, source)
	Zero(source)
	return &Locked{data: copied}, nil
}

// Buffer returns the secret as an immutable Buffer.
func (l *Locked) Buffer() *Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic("securebuf: read from closed locked buffer")
	}
	return New(l.data)
}

// Len returns the size of the secret.
func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// Close zeroes the contents. Idempotent.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	Zero(l.data)
	l.data = nil
	return nil
}

//go:build linux || darwin

// pkg/securebuf/locked_unix.go

package securebuf

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Locked holds long-lived key material in memory that is mmap'd outside
// the Go heap, locked against swapping, and excluded from core dumps.
// The garbage collector never sees the region, so it cannot copy or
// relocate the secret. Intended for the agent's master key, which lives
// for the whole process; short-lived material should use Buffer.
//
// A Locked must not be copied. Close zeroes and unmaps the region;
// access after Close panics.
type Locked struct {
	mu     sync.Mutex
	region []byte
	length int
	closed bool
}

// NewLocked copies source into a locked region and zeroes the source
// slice so the caller's copy no longer holds the secret.
func NewLocked(source []byte) (*Locked, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("securebuf: cannot lock empty source")
	}

	region, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("securebuf: mmap failed: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		_ = unix.Munmap(region)
		return nil, fmt.Errorf("securebuf: mlock failed: %w", err)
	}
	// MADV_DONTDUMP is linux-only hardening; absence is not fatal because
	// the region is already protected against swap.
	_ = madviseDontDump(region)

	copy(region, source)
	Zero(source)

	return &Locked{region: region, length: len(source)}, nil
}

// Buffer returns the secret as an ordinary immutable Buffer (heap copy).
// Use at API boundaries that take *Buffer; the locked region remains the
// authoritative copy.
func (l *Locked) Buffer() *Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic("securebuf: read from closed locked buffer")
	}
	return New(l.region[:l.length])
}

// Len returns the size of the locked secret.
func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.length
}

// Close zeroes, unlocks, and unmaps the region. Idempotent.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	Zero(l.region)

	var firstErr error
	if err := unix.Munlock(l.region); err != nil {
		firstErr = fmt.Errorf("securebuf: munlock failed: %w", err)
	}
	if err := unix.Munmap(l.region); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("securebuf: munmap failed: %w", err)
	}
	l.region = nil
	return firstErr
}

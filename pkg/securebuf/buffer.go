// pkg/securebuf/buffer.go

// Package securebuf provides an opaque, immutable byte container for
// sensitive material: repository passwords, key bytes, plaintext,
// ciphertext, signatures, and digests. Every trust boundary in Mnemosyne
// carries a Buffer instead of a raw []byte so secret data is never
// silently aliased with unrelated slices and never leaks through logs.
//
// Construction copies the input; accessors copy the output. Equality is
// constant-time and byte-wise. Wipe zeroes the contents when an operation
// conceptually consumes the buffer (encryption consumes plaintext, key
// import consumes raw key bytes); reads after Wipe observe an empty buffer.
package securebuf

import (
	"crypto/subtle"
	"fmt"
	"sync"
)

// Buffer is an immutable sequence of secret bytes. The zero value and a
// nil *Buffer both behave as an empty buffer, which keeps wire-decoding
// paths free of nil checks.
type Buffer struct {
	mu   sync.Mutex
	data []byte
}

// New copies data into a fresh Buffer. The caller's slice is not retained;
// mutating it afterwards does not affect the buffer.
func New(data []byte) *Buffer {
	copied := make([]byte, len(data))
	copy(copied, data)
	return &Buffer{data: copied}
}

// FromString copies s into a fresh Buffer. The string itself cannot be
// zeroed (Go strings are immutable); prefer New for material that should
// be wipeable at the source.
func FromString(s string) *Buffer {
	return New([]byte(s))
}

// Len returns the number of bytes held.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Bytes returns a defensive copy of the contents. Callers own the copy and
// should zero it when finished if it carries key material.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := make([]byte, len(b.data))
	copy(copied, b.data)
	return copied
}

// At returns the byte at index i. Panics if i is out of range, matching
// slice indexing semantics.
func (b *Buffer) At(i int) byte {
	if b == nil {
		panic("securebuf: index out of range on nil buffer")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[i]
}

// Range calls fn for each byte in order. Iteration stops early when fn
// returns false.
func (b *Buffer) Range(fn func(i int, v byte) bool) {
	if b == nil {
		return
	}
	b.mu.Lock()
	snapshot := make([]byte, len(b.data))
	copy(snapshot, b.data)
	b.mu.Unlock()

	for i, v := range snapshot {
		if !fn(i, v) {
			break
		}
	}
	Zero(snapshot)
}

// Equal reports whether two buffers hold identical bytes. The comparison
// is constant-time in the buffer length so it is safe for comparing MACs
// and derived keys. Nil buffers equal empty buffers.
func (b *Buffer) Equal(other *Buffer) bool {
	left := b.Bytes()
	right := other.Bytes()
	defer Zero(left)
	defer Zero(right)

	if len(left) != len(right) {
		return false
	}
	return subtle.ConstantTimeCompare(left, right) == 1
}

// Wipe zeroes the contents and releases them. Subsequent reads observe an
// empty buffer. Wipe is idempotent and safe on nil receivers.
func (b *Buffer) Wipe() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	Zero(b.data)
	b.data = nil
}

// String returns a redacted description. Buffers must never print their
// contents through %v/%s formatting or structured log fields.
func (b *Buffer) String() string {
	return fmt.Sprintf("securebuf.Buffer(len=%d)", b.Len())
}

// MarshalJSON redacts the contents. Wire encoding of secret bytes happens
// explicitly via Bytes() at the transport layer, never through generic
// serialization.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", b.String())), nil
}

// Zero overwrites a byte slice in place. For scratch slices that held
// sensitive material outside a Buffer.
func Zero(p []byte) {
	for i := range p {
		p[i] = 0
	}
}

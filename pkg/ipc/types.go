// pkg/ipc/types.go

// Package ipc carries the cross-process contract over a Unix socket.
// Frames are CBOR with deterministic encoding; each connection handles
// exactly one request-response cycle. No fault on either side may cross
// the boundary as anything but a typed error envelope.
package ipc

import (
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
)

// Request is one operation invocation crossing the boundary. Exactly one
// operation per frame; unused fields stay empty and off the wire.
type Request struct {
	// ID correlates a request with log lines on both sides.
	ID string `cbor:"id" json:"id"`
	// Protocol is the tier identifier the caller speaks.
	Protocol string `cbor:"protocol,omitempty" json:"protocol,omitempty"`
	// Op names the operation, one of the protocol Op constants.
	Op string `cbor:"op" json:"op"`

	// KeyID addresses a stored key; TargetKeyID addresses the derivation
	// destination.
	KeyID       string `cbor:"key_id,omitempty" json:"key_id,omitempty"`
	TargetKeyID string `cbor:"target_key_id,omitempty" json:"target_key_id,omitempty"`
	// Kind tags imported or generated keys.
	Kind string `cbor:"kind,omitempty" json:"kind,omitempty"`

	// Data is the operation payload (plaintext, ciphertext, digest input).
	Data []byte `cbor:"data,omitempty" json:"data,omitempty"`
	// Key carries raw key material, only for import.
	Key []byte `cbor:"key,omitempty" json:"key,omitempty"`
	// Signature carries the signature for verification.
	Signature []byte `cbor:"signature,omitempty" json:"signature,omitempty"`

	// Derivation scalars.
	Salt         []byte `cbor:"salt,omitempty" json:"salt,omitempty"`
	Iterations   int    `cbor:"iterations,omitempty" json:"iterations,omitempty"`
	OutputLength int    `cbor:"output_length,omitempty" json:"output_length,omitempty"`

	// Length sizes random generation.
	Length int `cbor:"length,omitempty" json:"length,omitempty"`

	// Metadata annotates imported or generated keys.
	Metadata map[string]string `cbor:"metadata,omitempty" json:"metadata,omitempty"`
	// Config selects algorithm and key size. Nil means the operation's
	// default algorithm.
	Config *RawConfig `cbor:"config,omitempty" json:"config,omitempty"`
}

// RawConfig mirrors crypto.Config on the wire without binding the frame
// format to that package's evolution.
type RawConfig struct {
	Algorithm   string            `cbor:"algorithm" json:"algorithm"`
	KeySizeBits int               `cbor:"key_size_bits,omitempty" json:"key_size_bits,omitempty"`
	Options     map[string]string `cbor:"options,omitempty" json:"options,omitempty"`
}

// Response is the wire result of one operation: success with a payload,
// or failure with a structured error. Never both, never neither.
type Response struct {
	Success bool `cbor:"success" json:"success"`
	// Data is the CBOR-encoded operation result. Present exactly when
	// Success is true; even void operations acknowledge with an encoded
	// true.
	Data RawMessage `cbor:"data,omitempty" json:"data,omitempty"`
	// Error is the mapped security error. Present exactly when Success
	// is false.
	Error *secerr.Envelope `cbor:"error,omitempty" json:"error,omitempty"`
}

// Succeed builds a success response carrying an already-encoded payload.
func Succeed(data RawMessage) Response {
	return Response{Success: true, Data: data}
}

// Fail builds a failure response, mapping err through the taxonomy. The
// mapping is total, so every error produces an envelope.
func Fail(err error) Response {
	return Response{Success: false, Error: secerr.ToEnvelope(err)}
}

// Valid reports whether the response satisfies result exclusivity:
// success carries data and no error, failure carries an error and no
// data.
func (r Response) Valid() bool {
	if r.Success {
		return len(r.Data) > 0 && r.Error == nil
	}
	return r.Error != nil && len(r.Data) == 0
}

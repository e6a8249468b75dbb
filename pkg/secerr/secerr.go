// pkg/secerr/secerr.go

// Package secerr defines the closed error taxonomy for security and key
// operations, and the deterministic mapping between in-process errors and
// the wire envelope that crosses the agent boundary.
//
// Command-execution failures (pkg/execute) are a disjoint taxonomy: a
// process exit failure is not a cryptographic failure. Callers that need a
// unified surface wrap foreign errors explicitly via WrapExternal; the two
// enumerations are never merged.
package secerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a security failure. The set is closed; new kinds require
// a code and domain assignment in mapping.go.
type Kind int

const (
	// KindInvalidData - input payload is empty or structurally unusable
	KindInvalidData Kind = iota
	// KindInvalidInput - parameters are out of range or malformed for the operation
	KindInvalidInput
	// KindEncryptionFailed - cipher setup or sealing failed
	KindEncryptionFailed
	// KindDecryptionFailed - opening the ciphertext failed (wrong key, corrupt data)
	KindDecryptionFailed
	// KindHashingFailed - digest computation failed
	KindHashingFailed
	// KindSignatureInvalid - signature bytes are malformed (a mismatch is not an error)
	KindSignatureInvalid
	// KindKeyStorageFailed - the key store rejected or lost an operation
	KindKeyStorageFailed
	// KindPolicyViolation - an operation was refused by policy
	KindPolicyViolation
	// KindAuthorizationFailed - the caller is not allowed to perform the operation
	KindAuthorizationFailed
	// KindNotImplemented - the peer does not provide this operation
	KindNotImplemented
	// KindInternalError - unexpected failure inside the implementer
	KindInternalError
)

// String returns the canonical lower-snake name used in logs and details.
func (k Kind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid_data"
	case KindInvalidInput:
		return "invalid_input"
	case KindEncryptionFailed:
		return "encryption_failed"
	case KindDecryptionFailed:
		return "decryption_failed"
	case KindHashingFailed:
		return "hashing_failed"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindKeyStorageFailed:
		return "key_storage_failed"
	case KindPolicyViolation:
		return "policy_violation"
	case KindAuthorizationFailed:
		return "authorization_failed"
	case KindNotImplemented:
		return "not_implemented"
	case KindInternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// Error is a classified security failure. Reason carries the original
// diagnostic text verbatim; the structured kind/code is layered on top for
// programmatic handling, never replacing the text.
type Error struct {
	Kind      Kind
	Reason    string
	Operation string            // set for key-storage and not-implemented failures
	Policy    string            // set for policy violations
	Details   map[string]string // free-form supplementary detail
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())

	if e.Operation != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Operation))
	}
	if e.Policy != "" {
		sb.WriteString(fmt.Sprintf(" [policy %s]", e.Policy))
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	return sb.String()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithDetail returns e with an added detail entry. Mutates and returns the
// receiver; intended for construction chains.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

// NewInvalidData reports an empty or unusable payload.
func NewInvalidData(reason string) *Error {
	return &Error{Kind: KindInvalidData, Reason: reason}
}

// NewInvalidInput reports out-of-range or malformed parameters.
func NewInvalidInput(reason string) *Error {
	return &Error{Kind: KindInvalidInput, Reason: reason}
}

// NewEncryptionFailed wraps a failed seal operation.
func NewEncryptionFailed(reason string, cause error) *Error {
	return &Error{Kind: KindEncryptionFailed, Reason: reason, cause: cause}
}

// NewDecryptionFailed wraps a failed open operation.
func NewDecryptionFailed(reason string, cause error) *Error {
	return &Error{Kind: KindDecryptionFailed, Reason: reason, cause: cause}
}

// NewHashingFailed wraps a failed digest computation.
func NewHashingFailed(reason string, cause error) *Error {
	return &Error{Kind: KindHashingFailed, Reason: reason, cause: cause}
}

// NewSignatureInvalid reports malformed signature input. A signature that
// simply does not verify is a false result, not this error.
func NewSignatureInvalid(reason string) *Error {
	return &Error{Kind: KindSignatureInvalid, Reason: reason}
}

// NewKeyStorageFailed reports a key store fault for the named operation
// (store, retrieve, delete).
func NewKeyStorageFailed(operation, reason string, cause error) *Error {
	return &Error{Kind: KindKeyStorageFailed, Operation: operation, Reason: reason, cause: cause}
}

// NewPolicyViolation reports refusal by the named policy.
func NewPolicyViolation(policy, reason string) *Error {
	return &Error{Kind: KindPolicyViolation, Policy: policy, Reason: reason}
}

// NewAuthorizationFailed reports a caller without rights for the operation.
func NewAuthorizationFailed(reason string) *Error {
	return &Error{Kind: KindAuthorizationFailed, Reason: reason}
}

// NewNotImplemented reports an operation the peer does not provide. Default
// protocol implementations return this instead of crashing.
func NewNotImplemented(operation string) *Error {
	return &Error{Kind: KindNotImplemented, Operation: operation, Reason: "operation not implemented"}
}

// NewInternalError wraps an unexpected implementer failure.
func NewInternalError(reason string, cause error) *Error {
	return &Error{Kind: KindInternalError, Reason: reason, cause: cause}
}

// KindOf extracts the taxonomy kind from err. ok is false when err carries
// no *Error in its chain.
func KindOf(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// pkg/secerr/mapping.go

package secerr

import (
	"errors"
	"fmt"
	"strconv"
)

// Envelope is the wire form of a security failure. It carries a stable
// numeric code and string domain so peers in other languages can classify
// without parsing the message text.
type Envelope struct {
	Domain  string            `json:"domain" cbor:"domain"`
	Code    int               `json:"code" cbor:"code"`
	Message string            `json:"message" cbor:"message"`
	Details map[string]string `json:"details,omitempty" cbor:"details,omitempty"`
}

// Fallback classification for anything the table does not cover. Peers
// treat this bucket as "failed, reason in message".
const (
	GenericCode   = 9999
	GenericDomain = "security.general"
)

const (
	DomainData     = "security.data"
	DomainCrypto   = "security.crypto"
	DomainKeystore = "security.keystore"
	DomainPolicy   = "security.policy"
	DomainProtocol = "security.protocol"
)

type wireIdentity struct {
	code   int
	domain string
}

// Codes are grouped by domain band. The assignment is part of the wire
// contract: renumbering breaks deployed peers.
var kindWire = map[Kind]wireIdentity{
	KindInvalidData:         {1001, DomainData},
	KindInvalidInput:        {1002, DomainData},
	KindEncryptionFailed:    {2001, DomainCrypto},
	KindDecryptionFailed:    {2002, DomainCrypto},
	KindHashingFailed:       {2003, DomainCrypto},
	KindSignatureInvalid:    {2004, DomainCrypto},
	KindKeyStorageFailed:    {3001, DomainKeystore},
	KindPolicyViolation:     {4001, DomainPolicy},
	KindAuthorizationFailed: {4002, DomainPolicy},
	KindNotImplemented:      {5001, DomainProtocol},
	KindInternalError:       {9000, GenericDomain},
}

var codeKind = func() map[int]Kind {
	m := make(map[int]Kind, len(kindWire))
	for k, w := range kindWire {
		m[w.code] = k
	}
	return m
}()

// ToEnvelope converts any error into its wire form. The mapping is total:
// errors outside the taxonomy land in the generic bucket with their text
// preserved verbatim. A nil error yields a nil envelope.
func ToEnvelope(err error) *Envelope {
	if err == nil {
		return nil
	}

	var se *Error
	if !errors.As(err, &se) {
		return &Envelope{
			Domain:  GenericDomain,
			Code:    GenericCode,
			Message: err.Error(),
		}
	}

	w := kindWire[se.Kind]
	if w.domain == "" {
		// Kind outside the table (future or corrupted value).
		w = wireIdentity{GenericCode, GenericDomain}
	}
	env := &Envelope{
		Domain:  w.domain,
		Code:    w.code,
		Message: se.Error(),
		Details: cloneDetails(se.Details),
	}
	if se.Operation != "" {
		env = withDetail(env, "operation", se.Operation)
	}
	if se.Policy != "" {
		env = withDetail(env, "policy", se.Policy)
	}
	return env
}

// FromEnvelope reconstructs a classified error from its wire form. Codes
// the local table does not know become internal errors with the peer code
// preserved in the details, so nothing is silently dropped.
func FromEnvelope(env *Envelope) *Error {
	if env == nil {
		return nil
	}

	kind, known := codeKind[env.Code]
	if !known {
		e := NewInternalError(env.Message, nil)
		e.Details = cloneDetails(env.Details)
		return e.
			WithDetail("peer_code", strconv.Itoa(env.Code)).
			WithDetail("peer_domain", env.Domain)
	}

	e := &Error{
		Kind:    kind,
		Reason:  env.Message,
		Details: cloneDetails(env.Details),
	}
	if e.Details != nil {
		e.Operation = e.Details["operation"]
		e.Policy = e.Details["policy"]
	}
	return e
}

// WrapExternal lifts an error from a foreign taxonomy (command execution,
// IO, transport) into this one as an internal error. The source label and
// original text are preserved; classification detail from the foreign
// taxonomy is not mapped, only carried.
func WrapExternal(err error, source string) *Error {
	if err == nil {
		return nil
	}
	return NewInternalError(fmt.Sprintf("%s: %v", source, err), err).
		WithDetail("source", source)
}

func withDetail(env *Envelope, key, value string) *Envelope {
	if env.Details == nil {
		env.Details = make(map[string]string, 1)
	}
	if _, exists := env.Details[key]; !exists {
		env.Details[key] = value
	}
	return env
}

func cloneDetails(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// pkg/secerr/mapping_test.go

package secerr

import (
	"errors"
	"fmt"
	"testing"
)

// allKinds enumerates every member of the closed taxonomy. Extending the
// taxonomy without extending this list fails TestMappingIsTotal.
var allKinds = []Kind{
	KindInvalidData,
	KindInvalidInput,
	KindEncryptionFailed,
	KindDecryptionFailed,
	KindHashingFailed,
	KindSignatureInvalid,
	KindKeyStorageFailed,
	KindPolicyViolation,
	KindAuthorizationFailed,
	KindNotImplemented,
	KindInternalError,
}

func TestMappingIsTotal(t *testing.T) {
	if len(kindWire) != len(allKinds) {
		t.Fatalf("wire table has %d entries, taxonomy has %d kinds", len(kindWire), len(allKinds))
	}

	codes := make(map[int]Kind)
	for _, k := range allKinds {
		w, ok := kindWire[k]
		if !ok {
			t.Errorf("kind %v has no wire identity", k)
			continue
		}
		if w.code == 0 || w.domain == "" {
			t.Errorf("kind %v has incomplete wire identity %+v", k, w)
		}
		if prev, dup := codes[w.code]; dup {
			t.Errorf("kinds %v and %v share code %d", prev, k, w.code)
		}
		codes[w.code] = k
	}
}

func TestEnvelopeRoundTripPerKind(t *testing.T) {
	build := map[Kind]*Error{
		KindInvalidData:         NewInvalidData("empty payload"),
		KindInvalidInput:        NewInvalidInput("salt too short"),
		KindEncryptionFailed:    NewEncryptionFailed("seal failed", errors.New("gcm")),
		KindDecryptionFailed:    NewDecryptionFailed("open failed", errors.New("gcm")),
		KindHashingFailed:       NewHashingFailed("digest failed", nil),
		KindSignatureInvalid:    NewSignatureInvalid("signature truncated"),
		KindKeyStorageFailed:    NewKeyStorageFailed("delete", "backend unavailable", nil),
		KindPolicyViolation:     NewPolicyViolation("fips-only", "algorithm not allowed"),
		KindAuthorizationFailed: NewAuthorizationFailed("caller not entitled"),
		KindNotImplemented:      NewNotImplemented("deriveKey"),
		KindInternalError:       NewInternalError("panic recovered", nil),
	}

	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			in, ok := build[kind]
			if !ok {
				t.Fatalf("no fixture for kind %v", kind)
			}

			env := ToEnvelope(in)
			if env == nil {
				t.Fatal("ToEnvelope returned nil for a non-nil error")
			}
			want := kindWire[kind]
			if env.Code != want.code || env.Domain != want.domain {
				t.Errorf("envelope identity = (%d, %s), want (%d, %s)",
					env.Code, env.Domain, want.code, want.domain)
			}
			if env.Message == "" {
				t.Error("envelope message must not be empty")
			}

			out := FromEnvelope(env)
			if out == nil {
				t.Fatal("FromEnvelope returned nil")
			}
			if out.Kind != kind {
				t.Errorf("round trip kind = %v, want %v", out.Kind, kind)
			}
			if in.Operation != "" && out.Operation != in.Operation {
				t.Errorf("round trip operation = %q, want %q", out.Operation, in.Operation)
			}
			if in.Policy != "" && out.Policy != in.Policy {
				t.Errorf("round trip policy = %q, want %q", out.Policy, in.Policy)
			}
		})
	}
}

func TestToEnvelopeForeignErrorFallsBack(t *testing.T) {
	env := ToEnvelope(errors.New("disk on fire"))

	if env.Code != GenericCode || env.Domain != GenericDomain {
		t.Errorf("foreign error mapped to (%d, %s), want generic bucket", env.Code, env.Domain)
	}
	if env.Message != "disk on fire" {
		t.Errorf("message = %q, original text must survive verbatim", env.Message)
	}
}

func TestToEnvelopeNil(t *testing.T) {
	if env := ToEnvelope(nil); env != nil {
		t.Errorf("ToEnvelope(nil) = %+v, want nil", env)
	}
	if err := FromEnvelope(nil); err != nil {
		t.Errorf("FromEnvelope(nil) = %+v, want nil", err)
	}
}

func TestToEnvelopeFindsWrappedKind(t *testing.T) {
	inner := NewKeyStorageFailed("store", "write denied", nil)
	wrapped := fmt.Errorf("persisting import: %w", inner)

	env := ToEnvelope(wrapped)
	if env.Code != kindWire[KindKeyStorageFailed].code {
		t.Errorf("wrapped taxonomy error fell into code %d, want %d",
			env.Code, kindWire[KindKeyStorageFailed].code)
	}
}

func TestFromEnvelopeUnknownCode(t *testing.T) {
	env := &Envelope{
		Domain:  "security.future",
		Code:    7777,
		Message: "new failure mode",
	}

	err := FromEnvelope(env)
	if err.Kind != KindInternalError {
		t.Errorf("unknown code mapped to kind %v, want internal_error", err.Kind)
	}
	if err.Reason != "new failure mode" {
		t.Errorf("reason = %q, peer message must survive", err.Reason)
	}
	if err.Details["peer_code"] != "7777" || err.Details["peer_domain"] != "security.future" {
		t.Errorf("peer identity not preserved: %v", err.Details)
	}
}

func TestWrapExternal(t *testing.T) {
	cause := errors.New("exit status 3")

	err := WrapExternal(cause, "execute")
	if err.Kind != KindInternalError {
		t.Errorf("kind = %v, want internal_error", err.Kind)
	}
	if err.Details["source"] != "execute" {
		t.Errorf("source detail = %q, want execute", err.Details["source"])
	}
	if !errors.Is(err, cause) {
		t.Error("original error must remain reachable via errors.Is")
	}
	if WrapExternal(nil, "execute") != nil {
		t.Error("WrapExternal(nil) must be nil")
	}
}

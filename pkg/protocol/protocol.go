// pkg/protocol/protocol.go

// Package protocol defines the cross-process contract between backup
// tooling and the privileged key agent: three nested capability tiers,
// the identifiers peers negotiate with, and the status shape both sides
// report. Higher tiers are strict supersets of lower ones.
package protocol

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
)

// Version is the wire protocol version peers report in Status.
const Version = "1.0.0"

// Reverse-DNS identifiers peers advertise during negotiation. An
// unrecognized identifier is a rejection, never an assumption of
// compatibility.
const (
	IdentifierBasic    = "au.net.cybermonkey.mnemosyne.protocol.basic"
	IdentifierStandard = "au.net.cybermonkey.mnemosyne.protocol.standard"
	IdentifierComplete = "au.net.cybermonkey.mnemosyne.protocol.complete"
)

// Operation names carried in request frames.
const (
	OpPing              = "ping"
	OpStatus            = "status"
	OpImportKey         = "import_key"
	OpExportKey         = "export_key"
	OpDeleteKey         = "delete_key"
	OpGenerateKey       = "generate_key"
	OpEncrypt           = "encrypt"
	OpDecrypt           = "decrypt"
	OpSign              = "sign"
	OpVerifySignature   = "verify_signature"
	OpGenerateRandom    = "generate_random"
	OpEncryptAsymmetric = "encrypt_asymmetric"
	OpDecryptAsymmetric = "decrypt_asymmetric"
	OpDeriveKey         = "derive_key"
	OpHash              = "hash"
	OpDetailedStatus    = "detailed_status"
)

// Tier enumerates the capability tiers in ascending order.
type Tier int

const (
	TierBasic Tier = iota + 1
	TierStandard
	TierComplete
)

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierStandard:
		return "standard"
	case TierComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Identifier returns the reverse-DNS identifier peers advertise for t.
func (t Tier) Identifier() string {
	switch t {
	case TierBasic:
		return IdentifierBasic
	case TierStandard:
		return IdentifierStandard
	case TierComplete:
		return IdentifierComplete
	default:
		return ""
	}
}

// TierFromIdentifier resolves an advertised identifier to its tier.
func TierFromIdentifier(id string) (Tier, bool) {
	switch id {
	case IdentifierBasic:
		return TierBasic, true
	case IdentifierStandard:
		return TierStandard, true
	case IdentifierComplete:
		return TierComplete, true
	default:
		return 0, false
	}
}

// Operations returns the operation names a peer at tier t must answer.
func (t Tier) Operations() []string {
	basic := []string{OpPing, OpStatus}
	if t == TierBasic {
		return basic
	}
	standard := append(basic,
		OpImportKey, OpExportKey, OpDeleteKey, OpGenerateKey,
		OpEncrypt, OpDecrypt, OpSign, OpVerifySignature, OpGenerateRandom)
	switch t {
	case TierStandard:
		return standard
	case TierComplete:
		return append(standard,
			OpEncryptAsymmetric, OpDecryptAsymmetric, OpDeriveKey, OpHash, OpDetailedStatus)
	default:
		return nil
	}
}

// Negotiate resolves the tier two peers can speak: the lower of the two
// advertised tiers. An unknown identifier on either side rejects outright.
func Negotiate(local, peer string) (Tier, error) {
	lt, ok := TierFromIdentifier(local)
	if !ok {
		return 0, cerr.Newf("unknown local protocol identifier %q", local)
	}
	pt, ok := TierFromIdentifier(peer)
	if !ok {
		return 0, cerr.Newf("unknown peer protocol identifier %q", peer)
	}
	if pt < lt {
		return pt, nil
	}
	return lt, nil
}

// State values a service reports in its status.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
)

// ServiceStatus is the liveness and identity report of a peer.
type ServiceStatus struct {
	State           State             `json:"state" cbor:"state"`
	ProtocolVersion string            `json:"protocol_version" cbor:"protocol_version"`
	Details         map[string]string `json:"details,omitempty" cbor:"details,omitempty"`
}

// KeyKind tags stored keys by role.
type KeyKind string

const (
	KeySymmetric KeyKind = "symmetric"
	KeyPublic    KeyKind = "public"
	KeyPrivate   KeyKind = "private"
)

// BasicService is the minimal tier: liveness and identity, no security
// operations.
type BasicService interface {
	// Ping reports whether the peer is alive and answering.
	Ping(ctx context.Context) (bool, error)
	// Status reports service state and protocol version.
	Status(ctx context.Context) (ServiceStatus, error)
}

// StandardService adds key lifecycle and symmetric operations keyed by
// opaque key identifiers. Raw key material crosses the boundary only on
// import and export.
type StandardService interface {
	BasicService

	// ImportKey stores caller-provided material under id.
	ImportKey(ctx context.Context, id string, kind KeyKind, material *securebuf.Buffer, metadata map[string]string) error
	// ExportKey returns the material stored under id.
	ExportKey(ctx context.Context, id string) (*securebuf.Buffer, error)
	// DeleteKey removes the key stored under id.
	DeleteKey(ctx context.Context, id string) error
	// GenerateKey creates a key on the service side and stores it. An
	// empty id lets the service mint one; the id actually used is
	// returned.
	GenerateKey(ctx context.Context, id string, kind KeyKind, cfg crypto.Config, metadata map[string]string) (string, error)

	// Encrypt seals data under the key stored at keyID.
	Encrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// Decrypt opens data sealed under the key stored at keyID.
	Decrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// Sign computes a keyed signature over data.
	Sign(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// VerifySignature checks a keyed signature over data. A mismatch is
	// (false, nil), not an error.
	VerifySignature(ctx context.Context, keyID string, data, signature *securebuf.Buffer, cfg crypto.Config) (bool, error)
	// GenerateRandom returns length cryptographically random bytes.
	GenerateRandom(ctx context.Context, length int) (*securebuf.Buffer, error)
}

// CompleteService is the full contract: asymmetric operations, key
// derivation, configured hashing, and detailed status on top of
// StandardService.
type CompleteService interface {
	StandardService

	// EncryptAsymmetric seals data for the public key stored at keyID.
	EncryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// DecryptAsymmetric opens data with the private key stored at keyID.
	DecryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// DeriveKey derives a new key from the key stored at sourceID and
	// stores the result. An empty targetID lets the service mint one; the
	// id the derived key was stored under is returned.
	DeriveKey(ctx context.Context, sourceID string, salt []byte, iterations, outputLength int, targetID string) (string, error)
	// Hash digests data with the configured algorithm.
	Hash(ctx context.Context, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error)
	// DetailedStatus reports Status plus operational details such as key
	// counts and backend identity.
	DetailedStatus(ctx context.Context) (ServiceStatus, error)
}

// ValidateDerivation checks the scalar inputs of a DeriveKey call before
// any derivation work. Both sides of the boundary apply it: callers fail
// fast, the service stays authoritative.
func ValidateDerivation(sourceID string, salt []byte, iterations, outputLength int) error {
	if sourceID == "" {
		return secerr.NewInvalidInput("derivation source key id is empty")
	}
	if len(salt) == 0 {
		return secerr.NewInvalidInput("derivation salt is empty")
	}
	if iterations <= 0 {
		return secerr.NewInvalidInput("derivation iterations must be positive")
	}
	if outputLength <= 0 {
		return secerr.NewInvalidInput("derivation output length must be positive")
	}
	return nil
}

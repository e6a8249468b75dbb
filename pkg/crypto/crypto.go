// pkg/crypto/crypto.go

// Package crypto implements the security operations behind the service
// contract: authenticated encryption, hashing, signing, key generation and
// derivation. All sensitive inputs and outputs travel as securebuf.Buffer
// values; raw key bytes never appear in logs or error messages.
//
// The same Provider surface is implemented locally here and remotely by the
// IPC client, so callers do not care which side of the privilege boundary
// does the work.
package crypto

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
)

// Algorithm selectors. The names are part of the service contract; peers
// send them verbatim in configuration.
const (
	AlgAES256GCM        = "aes-256-gcm"
	AlgChaCha20Poly1305 = "chacha20-poly1305"
	AlgCurve25519Box    = "curve25519-box"
	AlgSHA256           = "sha256"
	AlgSHA512           = "sha512"
	AlgBLAKE3           = "blake3"
	AlgHMACSHA256       = "hmac-sha256"
	AlgHMACSHA512       = "hmac-sha512"
)

// Canonical key sizes in bytes.
const (
	KeySizeAES256     = 32
	KeySizeChaCha20   = 32
	KeySizeHMACSHA256 = 32
	KeySizeHMACSHA512 = 64
	KeySizeCurve25519 = 32
)

// DefaultPBKDF2Iterations follows the OWASP recommendation for
// PBKDF2-SHA256. Callers that do not carry an explicit iteration count use
// this.
const DefaultPBKDF2Iterations = 600000

// Config parameterizes one security operation. Algorithm is required where
// a Config is required; the zero Config selects defaults where the
// operation documents them. Options carries free-form string extensions
// that individual algorithms may consult.
type Config struct {
	Algorithm   string            `json:"algorithm" cbor:"algorithm"`
	KeySizeBits int               `json:"key_size_bits,omitempty" cbor:"key_size_bits,omitempty"`
	Options     map[string]string `json:"options,omitempty" cbor:"options,omitempty"`
}

// KeyBytes returns the key length Config asks for, falling back to the
// algorithm's canonical size. Zero means the algorithm has no fixed size
// and the caller must specify one.
func (c Config) KeyBytes() int {
	if c.KeySizeBits > 0 {
		return c.KeySizeBits / 8
	}
	switch c.Algorithm {
	case "", AlgAES256GCM:
		return KeySizeAES256
	case AlgChaCha20Poly1305:
		return KeySizeChaCha20
	case AlgHMACSHA256:
		return KeySizeHMACSHA256
	case AlgHMACSHA512:
		return KeySizeHMACSHA512
	case AlgCurve25519Box:
		return KeySizeCurve25519
	default:
		return 0
	}
}

// Provider is the full security operation surface. Mismatched
// verifications are false results, not errors; every failure is a
// classified security error from pkg/secerr.
type Provider interface {
	// Encrypt seals data with AES-256-GCM under key. Empty data is rejected.
	Encrypt(ctx context.Context, data, key *securebuf.Buffer) (*securebuf.Buffer, error)
	// Decrypt opens an Encrypt result.
	Decrypt(ctx context.Context, data, key *securebuf.Buffer) (*securebuf.Buffer, error)

	// EncryptSymmetric seals data with the algorithm cfg selects.
	EncryptSymmetric(ctx context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)
	// DecryptSymmetric opens an EncryptSymmetric result.
	DecryptSymmetric(ctx context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)

	// EncryptAsymmetric seals data to a recipient public key; only the
	// matching private key can open it.
	EncryptAsymmetric(ctx context.Context, data, publicKey *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)
	// DecryptAsymmetric opens an EncryptAsymmetric result with the
	// recipient private key.
	DecryptAsymmetric(ctx context.Context, data, privateKey *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)

	// Hash digests data with the algorithm cfg selects. Deterministic:
	// identical input and config yield identical output.
	Hash(ctx context.Context, data *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)
	// Verify recomputes the digest of data and compares it to expected. A
	// mismatch is (false, nil); only malformed input is an error.
	Verify(ctx context.Context, data, expected *securebuf.Buffer, cfg Config) (bool, error)

	// Sign computes a keyed MAC over data.
	Sign(ctx context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error)
	// VerifySignature checks a Sign result. Mismatch is (false, nil).
	VerifySignature(ctx context.Context, data, signature, key *securebuf.Buffer, cfg Config) (bool, error)

	// GenerateKey produces a fresh random key of the algorithm's canonical
	// size, or of cfg.KeySizeBits when set.
	GenerateKey(ctx context.Context, cfg Config) (*securebuf.Buffer, error)
	// GenerateKeyPair produces a fresh asymmetric keypair.
	GenerateKeyPair(ctx context.Context, cfg Config) (publicKey, privateKey *securebuf.Buffer, err error)
	// GenerateRandom produces length cryptographically random bytes.
	GenerateRandom(ctx context.Context, length int) (*securebuf.Buffer, error)

	// DeriveKey stretches source material into a new key with
	// PBKDF2-SHA256. All scalar parameters must be positive and salt
	// non-empty.
	DeriveKey(ctx context.Context, source *securebuf.Buffer, salt []byte, iterations, length int) (*securebuf.Buffer, error)
}

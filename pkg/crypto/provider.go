// pkg/crypto/provider.go

package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"hash"
	"io"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"
)

// LocalProvider performs all security operations in-process. It holds no
// mutable state; independent calls may run concurrently.
type LocalProvider struct {
	log *zap.Logger
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider returns a provider logging through log. A nil logger is
// replaced with a nop logger.
func NewLocalProvider(log *zap.Logger) *LocalProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalProvider{log: log}
}

// Encrypt seals data under key with AES-256-GCM, nonce prefixed to the
// ciphertext.
func (p *LocalProvider) Encrypt(ctx context.Context, data, key *securebuf.Buffer) (*securebuf.Buffer, error) {
	return p.EncryptSymmetric(ctx, data, key, Config{Algorithm: AlgAES256GCM})
}

// Decrypt opens an Encrypt result.
func (p *LocalProvider) Decrypt(ctx context.Context, data, key *securebuf.Buffer) (*securebuf.Buffer, error) {
	return p.DecryptSymmetric(ctx, data, key, Config{Algorithm: AlgAES256GCM})
}

// EncryptSymmetric seals data under key with the configured AEAD.
func (p *LocalProvider) EncryptSymmetric(_ context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("plaintext is empty")
	}

	keyBytes := key.Bytes()
	defer securebuf.Zero(keyBytes)

	aead, err := aeadFor(cfg.Algorithm, keyBytes)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, secerr.NewInternalError("entropy source failed", err)
	}

	plaintext := data.Bytes()
	defer securebuf.Zero(plaintext)

	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	p.log.Debug("Data encrypted",
		zap.String("algorithm", algorithmName(cfg.Algorithm)),
		zap.Int("plaintext_size", len(plaintext)),
		zap.Int("ciphertext_size", len(sealed)),
	)
	return securebuf.New(sealed), nil
}

// DecryptSymmetric opens ciphertext sealed by EncryptSymmetric with the
// same algorithm and key.
func (p *LocalProvider) DecryptSymmetric(_ context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("ciphertext is empty")
	}

	keyBytes := key.Bytes()
	defer securebuf.Zero(keyBytes)

	aead, err := aeadFor(cfg.Algorithm, keyBytes)
	if err != nil {
		return nil, err
	}

	sealed := data.Bytes()
	defer securebuf.Zero(sealed)

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, secerr.NewInvalidData("ciphertext too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, secerr.NewDecryptionFailed("open failed", err)
	}
	defer securebuf.Zero(plaintext)

	p.log.Debug("Data decrypted",
		zap.String("algorithm", algorithmName(cfg.Algorithm)),
		zap.Int("plaintext_size", len(plaintext)),
	)
	return securebuf.New(plaintext), nil
}

// EncryptAsymmetric seals data to publicKey as an anonymous box: an
// ephemeral sender key is generated per call, so only the recipient private
// key can open the result.
func (p *LocalProvider) EncryptAsymmetric(_ context.Context, data, publicKey *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("plaintext is empty")
	}
	if err := checkBoxAlgorithm(cfg.Algorithm); err != nil {
		return nil, err
	}
	if publicKey.Len() != KeySizeCurve25519 {
		return nil, secerr.NewInvalidInput(fmt.Sprintf("public key must be %d bytes, got %d", KeySizeCurve25519, publicKey.Len()))
	}

	pub := publicKey.Bytes()
	defer securebuf.Zero(pub)
	plaintext := data.Bytes()
	defer securebuf.Zero(plaintext)

	sealed, err := box.SealAnonymous(nil, plaintext, (*[32]byte)(pub), rand.Reader)
	if err != nil {
		return nil, secerr.NewEncryptionFailed("seal failed", err)
	}

	p.log.Debug("Data encrypted asymmetrically",
		zap.Int("plaintext_size", len(plaintext)),
		zap.Int("ciphertext_size", len(sealed)),
	)
	return securebuf.New(sealed), nil
}

// DecryptAsymmetric opens an EncryptAsymmetric result with the recipient
// private key. The matching public key is derived from the private scalar.
func (p *LocalProvider) DecryptAsymmetric(_ context.Context, data, privateKey *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("ciphertext is empty")
	}
	if err := checkBoxAlgorithm(cfg.Algorithm); err != nil {
		return nil, err
	}
	if privateKey.Len() != KeySizeCurve25519 {
		return nil, secerr.NewInvalidInput(fmt.Sprintf("private key must be %d bytes, got %d", KeySizeCurve25519, privateKey.Len()))
	}

	priv := privateKey.Bytes()
	defer securebuf.Zero(priv)

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, secerr.NewInvalidInput("private key is not a valid scalar")
	}
	defer securebuf.Zero(pub)

	sealed := data.Bytes()
	defer securebuf.Zero(sealed)

	plaintext, ok := box.OpenAnonymous(nil, sealed, (*[32]byte)(pub), (*[32]byte)(priv))
	if !ok {
		return nil, secerr.NewDecryptionFailed("open failed: wrong key or corrupt ciphertext", nil)
	}
	defer securebuf.Zero(plaintext)

	p.log.Debug("Data decrypted asymmetrically", zap.Int("plaintext_size", len(plaintext)))
	return securebuf.New(plaintext), nil
}

// Hash digests data. Empty input is rejected so an accidental zero-length
// read cannot masquerade as a stable digest.
func (p *LocalProvider) Hash(_ context.Context, data *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("input is empty")
	}

	raw := data.Bytes()
	defer securebuf.Zero(raw)

	digest, err := digestFor(cfg.Algorithm, raw)
	if err != nil {
		return nil, err
	}
	return securebuf.New(digest), nil
}

// Verify recomputes the digest of data and compares it with expected in
// constant time. A mismatch is (false, nil).
func (p *LocalProvider) Verify(ctx context.Context, data, expected *securebuf.Buffer, cfg Config) (bool, error) {
	if expected.IsEmpty() {
		return false, secerr.NewInvalidData("expected hash is empty")
	}

	computed, err := p.Hash(ctx, data, cfg)
	if err != nil {
		return false, err
	}
	defer computed.Wipe()

	if expected.Len() != computed.Len() {
		return false, secerr.NewInvalidInput(fmt.Sprintf("expected hash is %d bytes, algorithm produces %d", expected.Len(), computed.Len()))
	}
	return computed.Equal(expected), nil
}

// Sign computes a keyed MAC over data.
func (p *LocalProvider) Sign(_ context.Context, data, key *securebuf.Buffer, cfg Config) (*securebuf.Buffer, error) {
	if data.IsEmpty() {
		return nil, secerr.NewInvalidData("input is empty")
	}
	if key.IsEmpty() {
		return nil, secerr.NewInvalidInput("signing key is empty")
	}

	newHash, err := macHashFor(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	keyBytes := key.Bytes()
	defer securebuf.Zero(keyBytes)
	raw := data.Bytes()
	defer securebuf.Zero(raw)

	mac := hmac.New(newHash, keyBytes)
	mac.Write(raw)
	return securebuf.New(mac.Sum(nil)), nil
}

// VerifySignature checks a Sign result in constant time. A signature that
// does not match is (false, nil); an empty signature is malformed input.
func (p *LocalProvider) VerifySignature(ctx context.Context, data, signature, key *securebuf.Buffer, cfg Config) (bool, error) {
	if signature.IsEmpty() {
		return false, secerr.NewSignatureInvalid("signature is empty")
	}

	computed, err := p.Sign(ctx, data, key, cfg)
	if err != nil {
		return false, err
	}
	defer computed.Wipe()

	sig := signature.Bytes()
	defer securebuf.Zero(sig)
	want := computed.Bytes()
	defer securebuf.Zero(want)

	return subtle.ConstantTimeCompare(sig, want) == 1, nil
}

// GenerateKey produces a fresh random key sized for the configured
// algorithm, or cfg.KeySizeBits when set.
func (p *LocalProvider) GenerateKey(_ context.Context, cfg Config) (*securebuf.Buffer, error) {
	if cfg.KeySizeBits < 0 {
		return nil, secerr.NewInvalidInput("key size must be non-negative")
	}
	if cfg.KeySizeBits%8 != 0 {
		return nil, secerr.NewInvalidInput("key size must be a whole number of bytes")
	}

	size := cfg.KeyBytes()
	if size <= 0 {
		return nil, secerr.NewInvalidInput(fmt.Sprintf("no key size known for algorithm %q", cfg.Algorithm))
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, secerr.NewInternalError("entropy source failed", err)
	}
	defer securebuf.Zero(key)

	p.log.Debug("Key generated",
		zap.String("algorithm", algorithmName(cfg.Algorithm)),
		zap.Int("bytes", size),
	)
	return securebuf.New(key), nil
}

// GenerateKeyPair produces a fresh curve25519 keypair for asymmetric
// operations.
func (p *LocalProvider) GenerateKeyPair(_ context.Context, cfg Config) (*securebuf.Buffer, *securebuf.Buffer, error) {
	if err := checkBoxAlgorithm(cfg.Algorithm); err != nil {
		return nil, nil, err
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, secerr.NewInternalError("entropy source failed", err)
	}
	defer securebuf.Zero(priv[:])
	defer securebuf.Zero(pub[:])

	p.log.Debug("Keypair generated", zap.String("algorithm", AlgCurve25519Box))
	return securebuf.New(pub[:]), securebuf.New(priv[:]), nil
}

// GenerateRandom produces length cryptographically random bytes.
func (p *LocalProvider) GenerateRandom(_ context.Context, length int) (*securebuf.Buffer, error) {
	if length <= 0 {
		return nil, secerr.NewInvalidInput("length must be positive")
	}

	out := make([]byte, length)
	if _, err := rand.Read(out); err != nil {
		return nil, secerr.NewInternalError("entropy source failed", err)
	}
	defer securebuf.Zero(out)
	return securebuf.New(out), nil
}

// DeriveKey stretches source material into new key bytes with
// PBKDF2-SHA256.
func (p *LocalProvider) DeriveKey(_ context.Context, source *securebuf.Buffer, salt []byte, iterations, length int) (*securebuf.Buffer, error) {
	if source.IsEmpty() {
		return nil, secerr.NewInvalidData("source key material is empty")
	}
	if len(salt) == 0 {
		return nil, secerr.NewInvalidInput("salt is empty")
	}
	if iterations <= 0 {
		return nil, secerr.NewInvalidInput("iterations must be positive")
	}
	if length <= 0 {
		return nil, secerr.NewInvalidInput("output length must be positive")
	}

	src := source.Bytes()
	defer securebuf.Zero(src)

	derived := pbkdf2.Key(src, salt, iterations, length, sha256.New)
	defer securebuf.Zero(derived)

	p.log.Debug("Key derived",
		zap.Int("iterations", iterations),
		zap.Int("salt_size", len(salt)),
		zap.Int("key_size", length),
	)
	return securebuf.New(derived), nil
}

// aeadFor builds the AEAD for a symmetric algorithm, enforcing the exact
// key size the named algorithm requires.
func aeadFor(algorithm string, key []byte) (cipher.AEAD, error) {
	switch algorithm {
	case "", AlgAES256GCM:
		if len(key) != KeySizeAES256 {
			return nil, secerr.NewInvalidInput(fmt.Sprintf("%s requires a %d byte key, got %d", AlgAES256GCM, KeySizeAES256, len(key)))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, secerr.NewEncryptionFailed("cipher init failed", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, secerr.NewEncryptionFailed("gcm init failed", err)
		}
		return aead, nil
	case AlgChaCha20Poly1305:
		if len(key) != KeySizeChaCha20 {
			return nil, secerr.NewInvalidInput(fmt.Sprintf("%s requires a %d byte key, got %d", AlgChaCha20Poly1305, KeySizeChaCha20, len(key)))
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, secerr.NewEncryptionFailed("cipher init failed", err)
		}
		return aead, nil
	default:
		return nil, secerr.NewInvalidInput(fmt.Sprintf("unsupported symmetric algorithm %q", algorithm))
	}
}

// digestFor computes the digest for a hash algorithm.
func digestFor(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case "", AlgSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case AlgSHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	case AlgBLAKE3:
		sum := blake3.Sum256(data)
		return sum[:], nil
	default:
		return nil, secerr.NewInvalidInput(fmt.Sprintf("unsupported hash algorithm %q", algorithm))
	}
}

// macHashFor selects the hash constructor for a MAC algorithm.
func macHashFor(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "", AlgHMACSHA256:
		return sha256.New, nil
	case AlgHMACSHA512:
		return sha512.New, nil
	default:
		return nil, secerr.NewInvalidInput(fmt.Sprintf("unsupported signature algorithm %q", algorithm))
	}
}

func checkBoxAlgorithm(algorithm string) error {
	if algorithm != "" && algorithm != AlgCurve25519Box {
		return secerr.NewInvalidInput(fmt.Sprintf("unsupported asymmetric algorithm %q", algorithm))
	}
	return nil
}

func algorithmName(algorithm string) string {
	if algorithm == "" {
		return AlgAES256GCM
	}
	return algorithm
}

// pkg/agent/service.go

// Package agent implements the privileged side of the service contract:
// a complete-tier service backed by a crypto provider and a key store.
// Raw key material never leaves this process except through ImportKey
// and ExportKey.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/keystore"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/protocol"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MetadataExportable marks whether a key may leave the agent through
// ExportKey. Keys imported or generated with "false" stay resident.
const MetadataExportable = "exportable"

// Options configures a Service.
type Options struct {
	// Store holds key material. Required.
	Store keystore.Store
	// Provider performs the cryptography. Nil selects the local provider.
	Provider crypto.Provider
	// Backend names the store backend for status reporting.
	Backend string
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
}

// Service answers every operation of the complete protocol tier.
type Service struct {
	store    keystore.Store
	provider crypto.Provider
	backend  string
	log      *zap.Logger
	started  time.Time
}

var _ protocol.CompleteService = (*Service)(nil)

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, cerr.New("agent: key store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Provider == nil {
		opts.Provider = crypto.NewLocalProvider(opts.Logger)
	}
	if opts.Backend == "" {
		opts.Backend = "memory"
	}
	return &Service{
		store:    opts.Store,
		provider: opts.Provider,
		backend:  opts.Backend,
		log:      opts.Logger,
		started:  time.Now(),
	}, nil
}

func (s *Service) Ping(context.Context) (bool, error) {
	return true, nil
}

func (s *Service) Status(context.Context) (protocol.ServiceStatus, error) {
	return protocol.ServiceStatus{
		State:           protocol.StateReady,
		ProtocolVersion: protocol.Version,
		Details: map[string]string{
			"protocol": protocol.IdentifierComplete,
		},
	}, nil
}

// DetailedStatus never fails; a broken key store degrades the reported
// state instead.
func (s *Service) DetailedStatus(ctx context.Context) (protocol.ServiceStatus, error) {
	status := protocol.ServiceStatus{
		State:           protocol.StateReady,
		ProtocolVersion: protocol.Version,
		Details: map[string]string{
			"protocol": protocol.IdentifierComplete,
			"backend":  s.backend,
			"uptime":   time.Since(s.started).Round(time.Second).String(),
		},
	}

	entries, err := s.store.List(ctx)
	if err != nil {
		status.State = protocol.StateDegraded
		status.Details["keystore_error"] = err.Error()
		return status, nil
	}
	status.Details["key_count"] = strconv.Itoa(len(entries))
	return status, nil
}

func (s *Service) ImportKey(ctx context.Context, id string, kind protocol.KeyKind, material *securebuf.Buffer, metadata map[string]string) error {
	if err := keystore.ValidateID(id); err != nil {
		return secerr.NewInvalidInput(err.Error())
	}
	storedKind, err := storeKind(kind)
	if err != nil {
		return err
	}
	if material.IsEmpty() {
		return secerr.NewInvalidInput("key material is empty")
	}

	entry := keystore.Entry{ID: id, Kind: storedKind, Metadata: metadata}
	if err := s.store.Store(ctx, entry, material); err != nil {
		return storeErr(protocol.OpImportKey, id, err)
	}

	s.log.Info("Key imported",
		zap.String("key_id", id),
		zap.String("kind", storedKind),
		zap.Int("bytes", material.Len()),
	)
	return nil
}

func (s *Service) ExportKey(ctx context.Context, id string) (*securebuf.Buffer, error) {
	material, entry, err := s.store.Retrieve(ctx, id)
	if err != nil {
		return nil, storeErr(protocol.OpExportKey, id, err)
	}
	if entry.Metadata[MetadataExportable] == "false" {
		material.Wipe()
		return nil, secerr.NewPolicyViolation("key_export", fmt.Sprintf("key %q is not exportable", id))
	}

	s.log.Info("Key exported", zap.String("key_id", id), zap.Int("bytes", material.Len()))
	return material, nil
}

func (s *Service) DeleteKey(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return storeErr(protocol.OpDeleteKey, id, err)
	}
	s.log.Info("Key deleted", zap.String("key_id", id))
	return nil
}

// GenerateKey creates and stores a key. The private kind generates a
// keypair: the private key lands at id, the public half at id + ".pub".
func (s *Service) GenerateKey(ctx context.Context, id string, kind protocol.KeyKind, cfg crypto.Config, metadata map[string]string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	} else if err := keystore.ValidateID(id); err != nil {
		return "", secerr.NewInvalidInput(err.Error())
	}

	switch kind {
	case protocol.KeySymmetric:
		material, err := s.provider.GenerateKey(ctx, cfg)
		if err != nil {
			return "", err
		}
		defer material.Wipe()
		entry := keystore.Entry{ID: id, Kind: keystore.KindSymmetric, Metadata: metadata}
		if err := s.store.Store(ctx, entry, material); err != nil {
			return "", storeErr(protocol.OpGenerateKey, id, err)
		}

	case protocol.KeyPrivate:
		pub, priv, err := s.provider.GenerateKeyPair(ctx, cfg)
		if err != nil {
			return "", err
		}
		defer pub.Wipe()
		defer priv.Wipe()
		if err := s.store.Store(ctx, keystore.Entry{ID: id, Kind: keystore.KindPrivate, Metadata: metadata}, priv); err != nil {
			return "", storeErr(protocol.OpGenerateKey, id, err)
		}
		pubEntry := keystore.Entry{ID: id + ".pub", Kind: keystore.KindPublic, Metadata: metadata}
		if err := s.store.Store(ctx, pubEntry, pub); err != nil {
			return "", storeErr(protocol.OpGenerateKey, pubEntry.ID, err)
		}

	case protocol.KeyPublic:
		return "", secerr.NewInvalidInput("public keys are imported or generated as the half of a private keypair")

	default:
		return "", secerr.NewInvalidInput(fmt.Sprintf("unknown key kind %q", kind))
	}

	s.log.Info("Key generated", zap.String("key_id", id), zap.String("kind", string(kind)))
	return id, nil
}

func (s *Service) Encrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	key, _, err := s.loadKey(ctx, protocol.OpEncrypt, keyID, keystore.KindSymmetric)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return s.provider.EncryptSymmetric(ctx, data, key, cfg)
}

func (s *Service) Decrypt(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	key, _, err := s.loadKey(ctx, protocol.OpDecrypt, keyID, keystore.KindSymmetric)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return s.provider.DecryptSymmetric(ctx, data, key, cfg)
}

func (s *Service) Sign(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	key, _, err := s.loadKey(ctx, protocol.OpSign, keyID, keystore.KindSymmetric)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return s.provider.Sign(ctx, data, key, cfg)
}

func (s *Service) VerifySignature(ctx context.Context, keyID string, data, signature *securebuf.Buffer, cfg crypto.Config) (bool, error) {
	key, _, err := s.loadKey(ctx, protocol.OpVerifySignature, keyID, keystore.KindSymmetric)
	if err != nil {
		return false, err
	}
	defer key.Wipe()
	return s.provider.VerifySignature(ctx, data, signature, key, cfg)
}

func (s *Service) GenerateRandom(ctx context.Context, length int) (*securebuf.Buffer, error) {
	return s.provider.GenerateRandom(ctx, length)
}

func (s *Service) EncryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	key, _, err := s.loadKey(ctx, protocol.OpEncryptAsymmetric, keyID, keystore.KindPublic)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return s.provider.EncryptAsymmetric(ctx, data, key, cfg)
}

func (s *Service) DecryptAsymmetric(ctx context.Context, keyID string, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	key, _, err := s.loadKey(ctx, protocol.OpDecryptAsymmetric, keyID, keystore.KindPrivate)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()
	return s.provider.DecryptAsymmetric(ctx, data, key, cfg)
}

// DeriveKey validates every scalar input before touching the store, per
// the contract.
func (s *Service) DeriveKey(ctx context.Context, sourceID string, salt []byte, iterations, outputLength int, targetID string) (string, error) {
	if err := protocol.ValidateDerivation(sourceID, salt, iterations, outputLength); err != nil {
		return "", err
	}
	if targetID == "" {
		targetID = uuid.NewString()
	} else if err := keystore.ValidateID(targetID); err != nil {
		return "", secerr.NewInvalidInput(err.Error())
	}

	source, _, err := s.loadKey(ctx, protocol.OpDeriveKey, sourceID, keystore.KindSymmetric)
	if err != nil {
		return "", err
	}
	defer source.Wipe()

	derived, err := s.provider.DeriveKey(ctx, source, salt, iterations, outputLength)
	if err != nil {
		return "", err
	}
	defer derived.Wipe()

	entry := keystore.Entry{
		ID:       targetID,
		Kind:     keystore.KindSymmetric,
		Metadata: map[string]string{"derived_from": sourceID},
	}
	if err := s.store.Store(ctx, entry, derived); err != nil {
		return "", storeErr(protocol.OpDeriveKey, targetID, err)
	}

	s.log.Info("Key derived",
		zap.String("source_key_id", sourceID),
		zap.String("key_id", targetID),
		zap.Int("iterations", iterations),
	)
	return targetID, nil
}

func (s *Service) Hash(ctx context.Context, data *securebuf.Buffer, cfg crypto.Config) (*securebuf.Buffer, error) {
	return s.provider.Hash(ctx, data, cfg)
}

// loadKey retrieves material and enforces the entry kind the operation
// needs. Callers own the returned buffer.
func (s *Service) loadKey(ctx context.Context, op, id, wantKind string) (*securebuf.Buffer, keystore.Entry, error) {
	material, entry, err := s.store.Retrieve(ctx, id)
	if err != nil {
		return nil, keystore.Entry{}, storeErr(op, id, err)
	}
	if entry.Kind != wantKind {
		material.Wipe()
		return nil, keystore.Entry{}, secerr.NewInvalidInput(
			fmt.Sprintf("key %q is %s, operation needs %s", id, entry.Kind, wantKind))
	}
	return material, entry, nil
}

// storeErr lifts key store failures into the security taxonomy at the
// contract boundary.
func storeErr(op, id string, err error) error {
	if cerr.Is(err, keystore.ErrNotFound) {
		return secerr.NewKeyStorageFailed(op, "key not found", err).WithDetail("key_id", id)
	}
	return secerr.NewKeyStorageFailed(op, "key store operation failed", err).WithDetail("key_id", id)
}

func storeKind(kind protocol.KeyKind) (string, error) {
	switch kind {
	case protocol.KeySymmetric:
		return keystore.KindSymmetric, nil
	case protocol.KeyPublic:
		return keystore.KindPublic, nil
	case protocol.KeyPrivate:
		return keystore.KindPrivate, nil
	default:
		return "", secerr.NewInvalidInput(fmt.Sprintf("unknown key kind %q", kind))
	}
}

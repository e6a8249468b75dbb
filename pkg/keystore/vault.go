// pkg/keystore/vault.go

package keystore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultOptions configures a Vault KV v2 backed store.
type VaultOptions struct {
	// Address of the Vault server. Empty falls back to VAULT_ADDR.
	Address string
	// Token for authentication. Empty falls back to VAULT_TOKEN.
	Token string
	// Mount of the KV v2 secrets engine. Defaults to "secret".
	Mount string
	// PathPrefix under the mount. Defaults to "mnemosyne/keys".
	PathPrefix string
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
}

// VaultStore keeps key material in HashiCorp Vault. Vault owns the at-rest
// encryption and audit trail; this store only shapes entries in and out.
type VaultStore struct {
	client *api.Client
	kv     *api.KVv2
	mount  string
	prefix string
	log    *zap.Logger
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore builds the client without contacting the server. Callers
// that need fail-closed startup run Verify.
func NewVaultStore(opts VaultOptions) (*VaultStore, error) {
	cfg := api.DefaultConfig()
	if opts.Address != "" {
		cfg.Address = opts.Address
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, cerr.Wrap(err, "build vault client")
	}
	if opts.Token != "" {
		client.SetToken(opts.Token)
	}

	if opts.Mount == "" {
		opts.Mount = "secret"
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = "mnemosyne/keys"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &VaultStore{
		client: client,
		kv:     client.KVv2(opts.Mount),
		mount:  opts.Mount,
		prefix: opts.PathPrefix,
		log:    opts.Logger,
	}, nil
}

// Verify checks that Vault is reachable, initialized, and unsealed. The
// agent runs this at startup so a dead backend fails the process instead
// of every later operation.
func (s *VaultStore) Verify(ctx context.Context) error {
	health, err := s.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return cerr.Wrap(err, "vault health check")
	}
	if !health.Initialized {
		return cerr.New("vault is not initialized")
	}
	if health.Sealed {
		return cerr.New("vault is sealed")
	}
	s.log.Debug("Vault healthy", zap.String("version", health.Version))
	return nil
}

func (s *VaultStore) path(id string) string {
	return s.prefix + "/" + id
}

func (s *VaultStore) Store(ctx context.Context, entry Entry, material *securebuf.Buffer) error {
	if err := ValidateID(entry.ID); err != nil {
		return cerr.Wrap(err, "store")
	}
	if material.IsEmpty() {
		return cerr.New("store: key material is empty")
	}

	entry = touch(entry)
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return cerr.Wrap(err, "encode metadata")
	}

	raw := material.Bytes()
	defer securebuf.Zero(raw)

	_, err = s.kv.Put(ctx, s.path(entry.ID), map[string]interface{}{
		"material":   base64.StdEncoding.EncodeToString(raw),
		"kind":       entry.Kind,
		"metadata":   string(meta),
		"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return cerr.Wrapf(err, "persist key %q", entry.ID)
	}

	s.log.Debug("Key stored in vault", zap.String("key_id", entry.ID), zap.String("kind", entry.Kind))
	return nil
}

func (s *VaultStore) Retrieve(ctx context.Context, id string) (*securebuf.Buffer, Entry, error) {
	secret, err := s.kv.Get(ctx, s.path(id))
	if err != nil {
		if cerr.Is(err, api.ErrSecretNotFound) {
			return nil, Entry{}, cerr.Wrapf(ErrNotFound, "retrieve %q", id)
		}
		return nil, Entry{}, cerr.Wrapf(err, "retrieve key %q", id)
	}

	encoded, ok := secret.Data["material"].(string)
	if !ok {
		return nil, Entry{}, cerr.Newf("key %q has no material field", id)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, Entry{}, cerr.Wrapf(err, "decode material for key %q", id)
	}
	defer securebuf.Zero(raw)

	entry := Entry{ID: id}
	if kind, ok := secret.Data["kind"].(string); ok {
		entry.Kind = kind
	}
	if metaJSON, ok := secret.Data["metadata"].(string); ok && metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
			return nil, Entry{}, cerr.Wrapf(err, "decode metadata for key %q", id)
		}
	}
	if createdAt, ok := secret.Data["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = ts
		}
	}

	return securebuf.New(raw), entry, nil
}

// Delete removes every version of the key. Vault deletes are idempotent,
// so a Get establishes existence first to honor the not-found contract.
func (s *VaultStore) Delete(ctx context.Context, id string) error {
	if _, err := s.kv.Get(ctx, s.path(id)); err != nil {
		if cerr.Is(err, api.ErrSecretNotFound) {
			return cerr.Wrapf(ErrNotFound, "delete %q", id)
		}
		return cerr.Wrapf(err, "delete key %q", id)
	}

	if err := s.kv.DeleteMetadata(ctx, s.path(id)); err != nil {
		return cerr.Wrapf(err, "delete key %q", id)
	}

	s.log.Debug("Key deleted from vault", zap.String("key_id", id))
	return nil
}

func (s *VaultStore) List(ctx context.Context) ([]Entry, error) {
	listPath := fmt.Sprintf("%s/metadata/%s", s.mount, s.prefix)
	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, cerr.Wrap(err, "list keys")
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	rawKeys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}

	entries := make([]Entry, 0, len(rawKeys))
	for _, rk := range rawKeys {
		id, ok := rk.(string)
		if !ok {
			continue
		}
		material, entry, err := s.Retrieve(ctx, id)
		if err != nil {
			if cerr.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		material.Wipe()
		entries = append(entries, entry)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *VaultStore) Close() error {
	return nil
}

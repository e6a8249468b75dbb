// pkg/keystore/sqlite.go

package keystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure Go driver, no CGo
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS keys (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	material   BLOB NOT NULL,
	created_at TEXT NOT NULL
);`

// SQLiteOptions configures a SQLite-backed store.
type SQLiteOptions struct {
	// DSN is the database path, or ":memory:" for tests.
	DSN string
	// Master seals key material before it touches disk. Required; the
	// store never persists plaintext material.
	Master *securebuf.Buffer
	// Sealer performs the sealing. Nil selects the local provider.
	Sealer crypto.Provider
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
}

// SQLiteStore persists keys in a single SQLite file, material encrypted at
// rest under the master key. SQLite serializes writers, which gives the
// per-key write ordering the contract asks for.
type SQLiteStore struct {
	db     *sql.DB
	sealer crypto.Provider
	master *securebuf.Buffer
	log    *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database and prepares the
// schema. The caller keeps ownership of the master buffer.
func NewSQLiteStore(ctx context.Context, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.DSN == "" {
		return nil, cerr.New("sqlite keystore: dsn is required")
	}
	if opts.Master.IsEmpty() {
		return nil, cerr.New("sqlite keystore: master key is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sealer == nil {
		opts.Sealer = crypto.NewLocalProvider(opts.Logger)
	}

	db, err := sql.Open("sqlite", opts.DSN)
	if err != nil {
		return nil, cerr.Wrap(err, "open database")
	}

	if opts.DSN == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.ExecContext(ctx, `
			PRAGMA journal_mode = WAL;
			PRAGMA synchronous = NORMAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, cerr.Wrap(err, "configure database")
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, cerr.Wrap(err, "prepare schema")
	}

	opts.Logger.Debug("SQLite keystore opened", zap.String("dsn", opts.DSN))
	return &SQLiteStore{db: db, sealer: opts.Sealer, master: opts.Master, log: opts.Logger}, nil
}

func (s *SQLiteStore) Store(ctx context.Context, entry Entry, material *securebuf.Buffer) error {
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

	sealed, err := s.sealer.EncryptSymmetric(ctx, material, s.master, crypto.Config{Algorithm: crypto.AlgAES256GCM})
	if err != nil {
		return cerr.Wrapf(err, "seal key %q", entry.ID)
	}
	defer sealed.Wipe()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO keys (id, kind, metadata, material, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			metadata = excluded.metadata,
			material = excluded.material,
			created_at = excluded.created_at
	`, entry.ID, entry.Kind, string(meta), sealed.Bytes(), entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return cerr.Wrapf(err, "persist key %q", entry.ID)
	}

	s.log.Debug("Key stored", zap.String("key_id", entry.ID), zap.String("kind", entry.Kind))
	return nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, id string) (*securebuf.Buffer, Entry, error) {
	var (
		kind      string
		metaJSON  string
		sealed    []byte
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT kind, metadata, material, created_at FROM keys WHERE id = ?
	`, id).Scan(&kind, &metaJSON, &sealed, &createdAt)
	if err == sql.ErrNoRows {
		return nil, Entry{}, cerr.Wrapf(ErrNotFound, "retrieve %q", id)
	}
	if err != nil {
		return nil, Entry{}, cerr.Wrapf(err, "retrieve key %q", id)
	}

	entry := Entry{ID: id, Kind: kind}
	if metaJSON != "" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
			return nil, Entry{}, cerr.Wrapf(err, "decode metadata for key %q", id)
		}
	}
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		entry.CreatedAt = ts
	}

	sealedBuf := securebuf.New(sealed)
	defer sealedBuf.Wipe()
	material, err := s.sealer.DecryptSymmetric(ctx, sealedBuf, s.master, crypto.Config{Algorithm: crypto.AlgAES256GCM})
	if err != nil {
		return nil, Entry{}, cerr.Wrapf(err, "unseal key %q", id)
	}
	return material, entry, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE id = ?`, id)
	if err != nil {
		return cerr.Wrapf(err, "delete key %q", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return cerr.Wrapf(ErrNotFound, "delete %q", id)
	}

	s.log.Debug("Key deleted", zap.String("key_id", id))
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, metadata, created_at FROM keys ORDER BY id`)
	if err != nil {
		return nil, cerr.Wrap(err, "list keys")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			metaJSON  string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &metaJSON, &createdAt); err != nil {
			return nil, cerr.Wrap(err, "scan key row")
		}
		if metaJSON != "" && metaJSON != "null" {
			if err := json.Unmarshal([]byte(metaJSON), &entry.Metadata); err != nil {
				return nil, cerr.Wrapf(err, "decode metadata for key %q", entry.ID)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.CreatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

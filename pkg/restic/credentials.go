// pkg/restic/credentials.go

package restic

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/protocol"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// CredentialSource supplies repository passwords. Implementations return
// a buffer the caller owns and must wipe.
type CredentialSource interface {
	RepositoryPassword(ctx context.Context, repository string) (*securebuf.Buffer, error)
}

// DefaultKeyPrefix is where repository passwords live in the agent's
// key store.
const DefaultKeyPrefix = "backup.repo."

// AgentCredentials fetches repository passwords from the key agent. The
// password for repository "offsite" is the key "backup.repo.offsite".
type AgentCredentials struct {
	// Service is the negotiated agent surface, usually an ipc.Client.
	Service protocol.StandardService
	// Prefix overrides DefaultKeyPrefix.
	Prefix string
}

func (a AgentCredentials) RepositoryPassword(ctx context.Context, repository string) (*securebuf.Buffer, error) {
	if a.Service == nil {
		return nil, cerr.New("restic: agent credential source has no service")
	}
	prefix := a.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	buf, err := a.Service.ExportKey(ctx, prefix+repository)
	if err != nil {
		return nil, cerr.Wrapf(err, "fetch password for repository %q", repository)
	}
	return buf, nil
}

// DefaultSecretsDir is where FileCredentials looks without an override.
const DefaultSecretsDir = "/var/lib/mnemosyne/secrets"

// FileCredentials reads passwords from per-repository files, the
// fallback for hosts running without an agent. Surrounding whitespace is
// trimmed so trailing newlines from editors do not become part of the
// password.
type FileCredentials struct {
	// Dir overrides DefaultSecretsDir.
	Dir string
}

func (f FileCredentials) RepositoryPassword(_ context.Context, repository string) (*securebuf.Buffer, error) {
	dir := f.Dir
	if dir == "" {
		dir = DefaultSecretsDir
	}
	path := filepath.Join(dir, repository+".password")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Wrapf(err, "read password file for repository %q", repository)
	}
	trimmed := strings.TrimSpace(string(raw))
	securebuf.Zero(raw)

	buf := securebuf.FromString(trimmed)
	if buf.IsEmpty() {
		return nil, cerr.Newf("password file %s is empty", path)
	}
	return buf, nil
}

// FallbackCredentials tries a primary source and falls back when it
// fails, typically agent first, local files second.
type FallbackCredentials struct {
	Primary   CredentialSource
	Secondary CredentialSource
	Logger    *zap.Logger
}

func (f FallbackCredentials) RepositoryPassword(ctx context.Context, repository string) (*securebuf.Buffer, error) {
	buf, err := f.Primary.RepositoryPassword(ctx, repository)
	if err == nil {
		return buf, nil
	}
	if f.Logger != nil {
		f.Logger.Warn("Primary credential source unavailable, trying fallback",
			zap.String("repository", repository),
			zap.Error(err),
		)
	}
	buf, ferr := f.Secondary.RepositoryPassword(ctx, repository)
	if ferr != nil {
		return nil, cerr.CombineErrors(err, ferr)
	}
	return buf, nil
}

// StaticCredentials serves one fixed password for every repository, for
// tests and one-shot invocations where the caller already holds it.
type StaticCredentials struct {
	Password *securebuf.Buffer
}

func (s StaticCredentials) RepositoryPassword(context.Context, string) (*securebuf.Buffer, error) {
	if s.Password == nil || s.Password.IsEmpty() {
		return nil, cerr.New("restic: static credential source has no password")
	}
	raw := s.Password.Bytes()
	buf := securebuf.New(raw)
	securebuf.Zero(raw)
	return buf, nil
}

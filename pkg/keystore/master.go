// pkg/keystore/master.go

package keystore

import (
	"context"
	"crypto/rand"
	"os"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/crypto"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
)

const (
	masterSaltBytes      = 16
	masterIterations     = 210000
	masterKeyBytes       = 32
	masterSaltPermission = 0o600
)

// DeriveMaster stretches an agent passphrase into the 32-byte sealing key
// the SQLite store needs. The salt persists next to the database so the
// same passphrase yields the same key across restarts; it is created on
// first use. The salt is not secret, only unique.
func DeriveMaster(ctx context.Context, passphrase *securebuf.Buffer, saltPath string, provider crypto.Provider) (*securebuf.Buffer, error) {
	if passphrase.IsEmpty() {
		return nil, cerr.New("keystore: master passphrase is empty")
	}
	if saltPath == "" {
		return nil, cerr.New("keystore: salt path is required")
	}
	if provider == nil {
		provider = crypto.NewLocalProvider(nil)
	}

	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt = make([]byte, masterSaltBytes)
		if _, err := rand.Read(salt); err != nil {
			return nil, cerr.Wrap(err, "generate master salt")
		}
		if err := os.WriteFile(saltPath, salt, masterSaltPermission); err != nil {
			return nil, cerr.Wrapf(err, "write master salt %s", saltPath)
		}
	} else if err != nil {
		return nil, cerr.Wrapf(err, "read master salt %s", saltPath)
	}
	if len(salt) < masterSaltBytes {
		return nil, cerr.Newf("master salt %s is truncated", saltPath)
	}

	return provider.DeriveKey(ctx, passphrase, salt, masterIterations, masterKeyBytes)
}

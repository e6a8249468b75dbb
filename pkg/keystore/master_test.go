// pkg/keystore/master_test.go

package keystore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterCreatesSaltOnFirstUse(t *testing.T) {
	ctx := context.Background()
	saltPath := filepath.Join(t.TempDir(), "keys.db.salt")
	passphrase := securebuf.FromString("correct horse battery staple")

	master, err := DeriveMaster(ctx, passphrase, saltPath, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, master.Len())

	info, err := os.Stat(saltPath)
	require.NoError(t, err)
	assert.Equal(t, int64(16), info.Size())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestDeriveMasterIsStableAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	saltPath := filepath.Join(t.TempDir(), "keys.db.salt")
	passphrase := securebuf.FromString("correct horse battery staple")

	first, err := DeriveMaster(ctx, passphrase, saltPath, nil)
	require.NoError(t, err)
	second, err := DeriveMaster(ctx, passphrase, saltPath, nil)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
}

func TestDeriveMasterSaltSeparatesKeys(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	passphrase := securebuf.FromString("correct horse battery staple")

	a, err := DeriveMaster(ctx, passphrase, filepath.Join(dir, "a.salt"), nil)
	require.NoError(t, err)
	b, err := DeriveMaster(ctx, passphrase, filepath.Join(dir, "b.salt"), nil)
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
}

func TestDeriveMasterRejectsEmptyPassphrase(t *testing.T) {
	_, err := DeriveMaster(context.Background(), securebuf.New(nil), filepath.Join(t.TempDir(), "s"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passphrase is empty")
}

func TestDeriveMasterRejectsTruncatedSalt(t *testing.T) {
	saltPath := filepath.Join(t.TempDir(), "keys.db.salt")
	require.NoError(t, os.WriteFile(saltPath, []byte{1, 2, 3, 4}, 0o600))

	_, err := DeriveMaster(context.Background(), securebuf.FromString("pw"), saltPath, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

// pkg/mnemo_cli/flags_test.go

package mnemo_cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagHelpers(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "profile", "p", "system", "profile to run", false)
	AddBoolFlag(cmd, "json", "", false, "emit JSON")
	AddIntFlag(cmd, "limit", "n", 10, "result limit")
	AddStringSliceFlag(cmd, "tag", "", nil, "snapshot tags", false)

	profile, err := cmd.Flags().GetString("profile")
	require.NoError(t, err)
	assert.Equal(t, "system", profile)

	jsonOut, err := cmd.Flags().GetBool("json")
	require.NoError(t, err)
	assert.False(t, jsonOut)

	limit, err := cmd.Flags().GetInt("limit")
	require.NoError(t, err)
	assert.Equal(t, 10, limit)
}

func TestBindFlagsToViper(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "socket-path", "", "/run/mnemosyne/agent.sock", "agent socket", false)

	v := viper.New()
	require.NoError(t, BindFlagsToViper(cmd, v))

	assert.Equal(t, "/run/mnemosyne/agent.sock", v.GetString("socket-path"))

	require.NoError(t, cmd.Flags().Set("socket-path", "/tmp/other.sock"))
	assert.Equal(t, "/tmp/other.sock", v.GetString("socket-path"))
}

func TestSetViperEnvPrefix(t *testing.T) {
	t.Setenv("MNEMOSYNE_SOCKET_PATH", "/tmp/env.sock")

	v := viper.New()
	SetViperEnvPrefix(v, "MNEMOSYNE")

	assert.Equal(t, "/tmp/env.sock", v.GetString("socket-path"))
}

func TestGetStringOrEmpty(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "repo", "", "local", "repository", false)

	assert.Equal(t, "local", GetStringOrEmpty(cmd, "repo"))
	assert.Equal(t, "", GetStringOrEmpty(cmd, "unknown"))
}

func TestGetRequiredString(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	AddStringFlag(cmd, "key-id", "", "", "key identifier", false)

	_, err := GetRequiredString(cmd, "key-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--key-id")

	require.NoError(t, cmd.Flags().Set("key-id", "backup.repo.primary"))
	val, err := GetRequiredString(cmd, "key-id")
	require.NoError(t, err)
	assert.Equal(t, "backup.repo.primary", val)
}

// pkg/mnemo_cli/wrap_test.go

package mnemo_cli

import (
	"testing"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	logger.SetLogger(zaptest.NewLogger(t))
	return &cobra.Command{Use: "test"}
}

func TestWrapPassesThrough(t *testing.T) {
	cmd := newTestCommand(t)

	var gotRC *mnemo_io.RuntimeContext
	var gotArgs []string
	wrapped := Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		gotRC = rc
		gotArgs = args
		return nil
	})

	err := wrapped(cmd, []string{"profile-a", "profile-b"})
	require.NoError(t, err)
	require.NotNil(t, gotRC)
	assert.NotNil(t, gotRC.Ctx)
	assert.NotNil(t, gotRC.Log)
	assert.Equal(t, []string{"profile-a", "profile-b"}, gotArgs)
}

func TestWrapReturnsHandlerError(t *testing.T) {
	cmd := newTestCommand(t)

	wrapped := Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cerr.New("handler failed")
	})

	err := wrapped(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler failed")
}

func TestWrapRecoversPanics(t *testing.T) {
	cmd := newTestCommand(t)

	wrapped := Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		panic("handler exploded")
	})

	var err error
	require.NotPanics(t, func() {
		err = wrapped(cmd, nil)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestWrapScreensArguments(t *testing.T) {
	cmd := newTestCommand(t)

	called := false
	wrapped := Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		called = true
		return nil
	})

	err := wrapped(cmd, []string{"fine", "evil\x1b[2Jarg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "argument 1")
	assert.False(t, called, "handler must not run with rejected arguments")
}

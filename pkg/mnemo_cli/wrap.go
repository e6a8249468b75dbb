// pkg/mnemo_cli/wrap.go

// Package mnemo_cli glues cobra commands to the runtime context: panic
// recovery, span and log lifecycle, argument screening, and the
// flag/viper plumbing.
package mnemo_cli

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Wrap adapts a RuntimeContext handler to cobra's RunE, adding panic
// recovery and span/log lifecycle around it. A panic inside the handler
// becomes an error return, never a crash.
func Wrap(fn func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rc := mnemo_io.NewContext(ctx, cmd.CommandPath())
		defer rc.End(&err)
		defer rc.HandlePanic(&err)

		if err := screenArgs(rc, args); err != nil {
			return err
		}

		rc.Log.Debug("Command starting", zap.Strings("args", args))
		return fn(rc, cmd, args)
	}
}

// screenArgs rejects positional arguments carrying terminal-manipulation
// sequences before any command logic sees them.
func screenArgs(rc *mnemo_io.RuntimeContext, args []string) error {
	for i, arg := range args {
		if arg == "" {
			continue
		}
		if err := mnemo_io.ValidateInput(arg, "argument"); err != nil {
			rc.Log.Warn("Rejected command argument",
				zap.Int("position", i),
				zap.Error(err))
			return cerr.Wrapf(err, "argument %d", i)
		}
	}
	return nil
}

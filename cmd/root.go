// cmd/root.go

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	// Subcommands
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/agent"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/backup"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/key"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/repository"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/restore"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/self"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/cmd/snapshot"

	// Internal packages
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/config"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/secerr"
	cerr "github.com/cockroachdb/errors"
)

// RootCmd is the base command for mnemosyne.
var RootCmd = &cobra.Command{
	Use:   "mnemosyne",
	Short: "Mnemosyne CLI for restic-backed backups with a key agent",
	Long: `Mnemosyne is a command-line application for running restic backups,
restores, and repository maintenance, with repository passwords held by a
privileged key agent instead of the environment.`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

// HelpCmd wraps help so that it can be invoked like a normal command.
var HelpCmd = &cobra.Command{
	Use:   "help",
	Short: "Help about any command",
	Long:  "Displays help for mnemosyne or a specific subcommand.",
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return RootCmd.Help()
		}
		c, _, err := RootCmd.Find(args)
		if err != nil || c == nil {
			return fmt.Errorf("command not found: %s", strings.Join(args, " "))
		}
		return c.Help()
	}),
}

// RegisterCommands adds all subcommands to the root command.
func RegisterCommands() {
	RootCmd.SetHelpCommand(HelpCmd)

	for _, subCmd := range []*cobra.Command{
		backup.BackupCmd,
		restore.RestoreCmd,
		snapshot.SnapshotCmd,
		repository.RepositoryCmd,
		key.KeyCmd,
		agent.AgentCmd,
		self.SelfCmd,
	} {
		RootCmd.AddCommand(subCmd)
	}
}

func init() {
	RootCmd.PersistentFlags().String("config", "",
		fmt.Sprintf("Configuration file (default %s)", config.DefaultPath))

	mnemo_cli.SetViperEnvPrefix(viper.GetViper(), config.EnvPrefix)
	if err := viper.BindPFlag("config", RootCmd.PersistentFlags().Lookup("config")); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to bind --config: %v\n", err)
	}
}

// Execute runs the root command and returns the process exit code. The
// caller owns flushing and the actual exit so deferred cleanup still
// runs on the error path.
func Execute() int {
	RegisterCommands()

	if err := RootCmd.Execute(); err != nil {
		var serr *secerr.Error
		switch {
		case cerr.As(err, &serr) && (serr.Kind == secerr.KindInvalidInput || serr.Kind == secerr.KindInvalidData):
			// Bad input, not a broken system.
			logger.L().Warn("Command rejected input", zap.Error(err))
		default:
			logger.L().Error("Command failed", zap.Error(err))
		}
		return 1
	}
	return 0
}

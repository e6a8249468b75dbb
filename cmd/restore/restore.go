// cmd/restore/restore.go

package restore

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// RestoreCmd restores a snapshot into a target directory.
var RestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Restore a snapshot into a directory",
	Long: `Restore a snapshot from a repository into a target directory.

The snapshot id comes from "mnemosyne snapshot list"; "latest" resolves
to the most recent snapshot. The target directory is created when it
does not exist. Restoring over live system paths is deliberate work, so
the target is always explicit.

Examples:
  mnemosyne restore latest --target /tmp/restored
  mnemosyne restore 4bba301e --target /tmp/restored --repository offsite`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		snapshotID := args[0]

		target, err := mnemo_cli.GetRequiredString(cmd, "target")
		if err != nil {
			return err
		}
		repoName := mnemo_cli.GetStringOrEmpty(cmd, "repository")

		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}
		c, err := cmd_helpers.NewBackupContainer(rc, cfg, repoName)
		if err != nil {
			return err
		}
		defer c.Close()

		logger.Info("Restoring snapshot",
			zap.String("snapshot", snapshotID),
			zap.String("repository", c.Service.Repository().Name),
			zap.String("target", target))

		if err := c.Service.Restore(rc.Ctx, snapshotID, target); err != nil {
			return err
		}

		fmt.Printf("Snapshot %s restored to %s\n", snapshotID, target)
		return nil
	}),
}

func init() {
	mnemo_cli.AddStringFlag(RestoreCmd, "target", "t", "", "Directory to restore into", true)
	RestoreCmd.Flags().String("repository", "",
		"Repository holding the snapshot (default: the configured default)")
}

// cmd/self/self.go

package self

import (
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/spf13/cobra"
)

// SelfCmd groups commands that manage the tool itself rather than
// backups or keys.
var SelfCmd = &cobra.Command{
	Use:   "self",
	Short: "Manage the mnemosyne installation itself",
	Long: `Manage the mnemosyne installation itself, including local
telemetry collection.`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

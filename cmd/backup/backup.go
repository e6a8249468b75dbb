// cmd/backup/backup.go

package backup

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/restic"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// BackupCmd is the parent for backup operations.
var BackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run configured backup profiles",
	Long: `Run configured backup profiles through restic.

Profiles name the paths, excludes, tags, and retention policy for one
backup job; repositories name where snapshots land. Both live in the
configuration file.

Examples:
  mnemosyne backup run system              # Run the "system" profile
  mnemosyne backup run system --repository offsite
  mnemosyne backup list                    # Show configured profiles`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

var runRepository string

var runCmd = &cobra.Command{
	Use:   "run <profile>",
	Short: "Run the named backup profile",
	Long: `Run the named backup profile and apply its retention policy.

The snapshot lands in the profile's repository unless --repository
overrides it. Progress is logged while restic reports it; the summary
prints when the snapshot is done.

Examples:
  mnemosyne backup run system
  mnemosyne backup run system --repository offsite`,

	Args: cobra.ExactArgs(1),
	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		profileName := args[0]

		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}
		profile, err := cfg.Profile(profileName)
		if err != nil {
			return err
		}

		repoName := profile.Repository
		if runRepository != "" {
			repoName = runRepository
		}

		c, err := cmd_helpers.NewBackupContainer(rc, cfg, repoName)
		if err != nil {
			return err
		}
		defer c.Close()

		logger.Info("Running backup profile",
			zap.String("profile", profileName),
			zap.String("repository", c.Service.Repository().Name))

		summary, err := c.Service.Backup(rc.Ctx, profile)
		if err != nil {
			return err
		}

		fmt.Printf("Snapshot %s created\n", summary.SnapshotID)
		fmt.Printf("Files: %d new, %d changed, %d unmodified\n",
			summary.FilesNew, summary.FilesChanged, summary.FilesUnmodified)
		fmt.Printf("Added %s in %s\n",
			restic.HumanBytes(summary.DataAdded),
			summary.Duration().Round(time.Millisecond))
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List configured backup profiles",

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "PROFILE\tREPOSITORY\tPATHS\tTAGS")
		for _, name := range names {
			p := cfg.Profiles[name]
			repo := p.Repository
			if repo == "" {
				repo = cfg.DefaultRepository + " (default)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				name, repo, strings.Join(p.Paths, ","), strings.Join(p.Tags, ","))
		}
		return nil
	}),
}

func init() {
	BackupCmd.AddCommand(runCmd)
	BackupCmd.AddCommand(listCmd)

	runCmd.Flags().StringVar(&runRepository, "repository", "",
		"Back up into this repository instead of the profile's")
}

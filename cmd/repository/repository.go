// cmd/repository/repository.go

package repository

import (
	"fmt"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/restic"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// RepositoryCmd is the parent for repository maintenance.
var RepositoryCmd = &cobra.Command{
	Use:     "repository",
	Aliases: []string{"repo"},
	Short:   "Initialize and maintain restic repositories",
	Long: `Initialize and maintain restic repositories.

The repository password comes from the key agent (key id
"backup.repo.<name>") or from a local password file when no agent is
running. Import or generate the key before initializing:

  mnemosyne key import backup.repo.offsite
  mnemosyne repository init --repository offsite

Examples:
  mnemosyne repository init
  mnemosyne repository check --read-data-subset 10%
  mnemosyne repository forget --keep-daily 7 --keep-weekly 4 --prune
  mnemosyne repository stats`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

// container builds the backup container for the command's --repository
// flag. Every subcommand here carries that flag.
func container(rc *mnemo_io.RuntimeContext, cmd *cobra.Command) (*cmd_helpers.BackupContainer, error) {
	cfg, err := cmd_helpers.LoadConfig(rc)
	if err != nil {
		return nil, err
	}
	return cmd_helpers.NewBackupContainer(rc, cfg, mnemo_cli.GetStringOrEmpty(cmd, "repository"))
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a repository",
	Long: `Initialize a repository. Re-running against an initialized
repository is harmless.`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		c, err := container(rc, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Service.Init(rc.Ctx); err != nil {
			return err
		}
		fmt.Printf("Repository %s ready\n", c.Service.Repository().Name)
		return nil
	}),
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify repository integrity",
	Long: `Verify repository structure, and optionally re-read a subset of
the stored data.

Examples:
  mnemosyne repository check
  mnemosyne repository check --read-data-subset 10%`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		subset := mnemo_cli.GetStringOrEmpty(cmd, "read-data-subset")

		c, err := container(rc, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Service.Check(rc.Ctx, subset); err != nil {
			return err
		}
		fmt.Printf("Repository %s is healthy\n", c.Service.Repository().Name)
		return nil
	}),
}

var (
	forgetKeepLast    int
	forgetKeepDaily   int
	forgetKeepWeekly  int
	forgetKeepMonthly int
	forgetKeepYearly  int
	forgetTags        []string
	forgetPrune       bool
)

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Apply a retention policy to the repository",
	Long: `Remove snapshots outside the given retention policy. At least one
--keep flag is required; forgetting everything is not expressible.

Examples:
  mnemosyne repository forget --keep-daily 7 --keep-weekly 4
  mnemosyne repository forget --keep-last 3 --tag system --prune`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)

		ret := restic.Retention{
			KeepLast:    forgetKeepLast,
			KeepDaily:   forgetKeepDaily,
			KeepWeekly:  forgetKeepWeekly,
			KeepMonthly: forgetKeepMonthly,
			KeepYearly:  forgetKeepYearly,
		}

		c, err := container(rc, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		logger.Info("Applying retention policy",
			zap.String("repository", c.Service.Repository().Name),
			zap.Bool("prune", forgetPrune))

		if err := c.Service.Forget(rc.Ctx, ret, forgetTags, forgetPrune); err != nil {
			return err
		}
		fmt.Printf("Retention applied to %s\n", c.Service.Repository().Name)
		return nil
	}),
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove stale repository locks",
	Long: `Remove stale locks left behind by interrupted operations. Only
safe when no other process is using the repository.`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		c, err := container(rc, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.Service.Unlock(rc.Ctx); err != nil {
			return err
		}
		fmt.Printf("Repository %s unlocked\n", c.Service.Repository().Name)
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show repository size statistics",

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		c, err := container(rc, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		stats, err := c.Service.Stats(rc.Ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Repository: %s\n", c.Service.Repository().Name)
		fmt.Printf("Snapshots:  %d\n", stats.SnapshotCount)
		fmt.Printf("Files:      %d\n", stats.TotalFileCount)
		fmt.Printf("Total size: %s\n", restic.HumanBytes(stats.TotalSize))
		return nil
	}),
}

func init() {
	for _, subCmd := range []*cobra.Command{initCmd, checkCmd, forgetCmd, unlockCmd, statsCmd} {
		RepositoryCmd.AddCommand(subCmd)
		subCmd.Flags().String("repository", "",
			"Repository to operate on (default: the configured default)")
	}

	checkCmd.Flags().String("read-data-subset", "",
		"Re-read this subset of pack data, e.g. 10% or 1/5")

	forgetCmd.Flags().IntVar(&forgetKeepLast, "keep-last", 0, "Keep the last N snapshots")
	forgetCmd.Flags().IntVar(&forgetKeepDaily, "keep-daily", 0, "Keep N daily snapshots")
	forgetCmd.Flags().IntVar(&forgetKeepWeekly, "keep-weekly", 0, "Keep N weekly snapshots")
	forgetCmd.Flags().IntVar(&forgetKeepMonthly, "keep-monthly", 0, "Keep N monthly snapshots")
	forgetCmd.Flags().IntVar(&forgetKeepYearly, "keep-yearly", 0, "Keep N yearly snapshots")
	forgetCmd.Flags().StringSliceVar(&forgetTags, "tag", nil, "Only consider snapshots with these tags")
	forgetCmd.Flags().BoolVar(&forgetPrune, "prune", false, "Prune unreferenced data afterwards")
}

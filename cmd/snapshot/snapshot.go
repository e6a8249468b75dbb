// cmd/snapshot/snapshot.go

package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/restic"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SnapshotCmd is the parent for snapshot operations.
var SnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect repository snapshots",
	Long: `Inspect the snapshots a repository holds.

Examples:
  mnemosyne snapshot list
  mnemosyne snapshot list --repository offsite --format json`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

var (
	listRepository string
	listFormat     string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List snapshots in a repository",
	Long: `List the snapshots a repository holds, newest last.

Examples:
  mnemosyne snapshot list                        # Table output
  mnemosyne snapshot list --format json          # Machine-readable
  mnemosyne snapshot list --format yaml
  mnemosyne snapshot list --repository offsite`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)

		if listFormat != "table" && listFormat != "json" && listFormat != "yaml" {
			return fmt.Errorf("unknown format %q: want table, json, or yaml", listFormat)
		}

		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}
		c, err := cmd_helpers.NewBackupContainer(rc, cfg, listRepository)
		if err != nil {
			return err
		}
		defer c.Close()

		logger.Info("Listing snapshots",
			zap.String("repository", c.Service.Repository().Name),
			zap.String("format", listFormat))

		snapshots, err := c.Service.Snapshots(rc.Ctx)
		if err != nil {
			return err
		}

		switch listFormat {
		case "json":
			return outputSnapshotsJSON(snapshots)
		case "yaml":
			return outputSnapshotsYAML(snapshots)
		default:
			return outputSnapshotsTable(snapshots)
		}
	}),
}

func outputSnapshotsJSON(snapshots []restic.Snapshot) error {
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputSnapshotsYAML(snapshots []restic.Snapshot) error {
	data, err := yaml.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("marshal snapshots: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

func outputSnapshotsTable(snapshots []restic.Snapshot) error {
	if len(snapshots) == 0 {
		fmt.Println("No snapshots found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTIME\tHOST\tTAGS\tPATHS")
	for _, s := range snapshots {
		id := s.ShortID
		if id == "" {
			id = s.ID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id,
			s.Time.Format("2006-01-02 15:04:05"),
			s.Hostname,
			strings.Join(s.Tags, ","),
			strings.Join(s.Paths, ","))
	}
	fmt.Fprintf(w, "\n%d snapshots\n", len(snapshots))
	return nil
}

func init() {
	SnapshotCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listRepository, "repository", "",
		"Repository to list (default: the configured default)")
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table",
		"Output format: table, json, or yaml")
}

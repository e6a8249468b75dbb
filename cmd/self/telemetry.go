// cmd/self/telemetry.go

package self

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/telemetry"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/xdg"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

var telemetryCmd = &cobra.Command{
	Use:   "telemetry [on|off|status]",
	Short: "Manage local telemetry collection",
	Long: `Manage local telemetry collection.

Spans are written as JSONL to a local file and nowhere else; nothing is
sent to external servers. Collection is off until turned on here, and
the toggle takes effect on the next run.

Examples:
  mnemosyne self telemetry on
  mnemosyne self telemetry status`,
	Args: cobra.ExactArgs(1),

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)
		toggle := telemetry.TogglePath()

		switch args[0] {
		case "on":
			if err := xdg.EnsureDir(toggle); err != nil {
				return cerr.Wrap(err, "create config directory")
			}
			if err := os.WriteFile(toggle, []byte("on\n"), xdg.FilePermOwnerRW); err != nil {
				return cerr.Wrap(err, "enable telemetry")
			}
			logger.Info("Telemetry enabled", zap.String("toggle", toggle))
			fmt.Printf("Telemetry enabled. Spans will be written to %s\n", telemetry.DataFile())

		case "off":
			if err := os.Remove(toggle); err != nil && !os.IsNotExist(err) {
				return cerr.Wrap(err, "disable telemetry")
			}
			logger.Info("Telemetry disabled", zap.String("toggle", toggle))
			fmt.Println("Telemetry disabled.")

		case "status":
			return telemetryStatus()

		default:
			return cerr.Newf("unknown argument %q: want on, off, or status", args[0])
		}
		return nil
	}),
}

func telemetryStatus() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	state := "disabled"
	if telemetry.IsEnabled() {
		state = "enabled"
	}
	fmt.Fprintf(w, "Telemetry:\t%s\n", state)
	fmt.Fprintf(w, "Toggle file:\t%s\n", telemetry.TogglePath())

	dataFile := telemetry.DataFile()
	fmt.Fprintf(w, "Data file:\t%s\n", dataFile)

	info, err := os.Stat(dataFile)
	if err != nil {
		fmt.Fprintf(w, "Spans:\t0 (no data file yet)\n")
		return nil
	}
	spans, err := countLines(dataFile)
	if err != nil {
		return cerr.Wrap(err, "read data file")
	}
	fmt.Fprintf(w, "Spans:\t%d\n", spans)
	fmt.Fprintf(w, "Size:\t%d bytes\n", info.Size())
	return nil
}

// countLines streams the file; span lines can be long, so no scanner.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func init() {
	SelfCmd.AddCommand(telemetryCmd)
}

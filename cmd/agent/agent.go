// cmd/agent/agent.go

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/agent"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/cmd_helpers"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/config"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/ipc"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/keystore"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/logger"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_cli"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// MasterPassphraseEnv supplies the SQLite store passphrase when the agent
// runs without a terminal, typically from the agent env file.
const MasterPassphraseEnv = "MNEMOSYNE_MASTER_PASSPHRASE"

// AgentCmd is the parent for the key agent.
var AgentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run and inspect the key agent",
	Long: `Run and inspect the key agent.

The agent owns the key store and answers the CLI over a Unix socket. It
is the only process that touches key material; the CLI references keys
by id.

Examples:
  mnemosyne agent serve
  mnemosyne agent status`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the key agent until signalled",
	Long: `Run the key agent until SIGINT or SIGTERM.

The socket path, key store backend, and env file come from the agent
section of the configuration. The sqlite backend needs a passphrase,
read from ` + MasterPassphraseEnv + ` or prompted when a terminal is
attached. Configuration edits are watched; changes to agent fields are
reported but need a restart to apply.

Examples:
  mnemosyne agent serve
  MNEMOSYNE_MASTER_PASSPHRASE=... mnemosyne agent serve`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}

		// The agent is long-lived; honor the configured level for the
		// rest of the process.
		if cfg.Settings.LogLevel != "" {
			logger.Initialize(cfg.Settings.LogLevel)
		}
		log := logger.L().Named("agent")

		if err := config.LoadEnvFile(cfg.Agent.EnvFile, log); err != nil {
			return err
		}

		store, cleanup, err := buildStore(rc, cfg, log)
		if err != nil {
			return err
		}

		svc, err := agent.NewService(agent.Options{
			Store:   store,
			Backend: cfg.Agent.Keystore.Backend,
			Logger:  log,
		})
		if err != nil {
			cleanup()
			return err
		}

		if err := os.MkdirAll(filepath.Dir(cfg.Agent.SocketPath), 0o755); err != nil {
			cleanup()
			return cerr.Wrapf(err, "create socket directory for %s", cfg.Agent.SocketPath)
		}

		server, err := ipc.NewServer(ipc.ServerOptions{
			SocketPath: cfg.Agent.SocketPath,
			Service:    svc,
			Logger:     log,
		})
		if err != nil {
			cleanup()
			return err
		}

		handler := mnemo_cli.NewSignalHandler(rc.Ctx, log)
		defer handler.Stop()
		handler.RegisterCleanup(cleanup)

		go watchConfig(handler.Context(), cfg, log)

		log.Info("Key agent starting",
			zap.String("socket", cfg.Agent.SocketPath),
			zap.String("backend", cfg.Agent.Keystore.Backend))

		return server.Serve(handler.Context())
	}),
}

// buildStore constructs the configured key store backend. The returned
// cleanup closes the store and wipes any derived master key.
func buildStore(rc *mnemo_io.RuntimeContext, cfg *config.Config, log *zap.Logger) (keystore.Store, func() error, error) {
	ks := cfg.Agent.Keystore
	switch ks.Backend {
	case "", "memory":
		log.Warn("Using the in-memory key store; keys vanish when the agent stops")
		store := keystore.NewMemoryStore()
		return store, store.Close, nil

	case "sqlite":
		passphrase, err := masterPassphrase(rc)
		if err != nil {
			return nil, nil, err
		}
		defer passphrase.Wipe()

		if err := os.MkdirAll(filepath.Dir(ks.Path), 0o700); err != nil {
			return nil, nil, cerr.Wrapf(err, "create keystore directory for %s", ks.Path)
		}

		master, err := keystore.DeriveMaster(rc.Ctx, passphrase, ks.Path+".salt", nil)
		if err != nil {
			return nil, nil, err
		}

		store, err := keystore.NewSQLiteStore(rc.Ctx, keystore.SQLiteOptions{
			DSN:    ks.Path,
			Master: master,
			Logger: log,
		})
		if err != nil {
			master.Wipe()
			return nil, nil, err
		}
		cleanup := func() error {
			err := store.Close()
			master.Wipe()
			return err
		}
		return store, cleanup, nil

	case "vault":
		store, err := keystore.NewVaultStore(keystore.VaultOptions{
			Address: ks.VaultAddress,
			Mount:   ks.VaultMount,
			Logger:  log,
		})
		if err != nil {
			return nil, nil, err
		}
		// Fail closed now rather than on the first key operation.
		if err := store.Verify(rc.Ctx); err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, cerr.Newf("unknown keystore backend %q", ks.Backend)
	}
}

// masterPassphrase reads the sqlite passphrase from the environment, or
// prompts when a terminal is attached.
func masterPassphrase(rc *mnemo_io.RuntimeContext) (*securebuf.Buffer, error) {
	if v := os.Getenv(MasterPassphraseEnv); v != "" {
		return securebuf.FromString(v), nil
	}
	buf, err := mnemo_io.PromptSecurePassword(rc, "Key store passphrase")
	if err != nil {
		return nil, cerr.Wrapf(err, "set %s or run interactively", MasterPassphraseEnv)
	}
	return buf, nil
}

// watchConfig reports configuration edits while the agent runs. Agent
// fields cannot swap live, so changes to them are called out as needing
// a restart instead of silently ignored.
func watchConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) {
	err := config.Watch(ctx, cmd_helpers.ConfigPath(), log, func(next *config.Config) {
		if fields := restartFields(cfg, next); len(fields) > 0 {
			log.Warn("Configuration change needs an agent restart",
				zap.Strings("fields", fields))
			return
		}
		log.Info("Configuration change affects no agent fields")
	})
	if err != nil {
		log.Warn("Configuration watcher stopped", zap.Error(err))
	}
}

// restartFields lists agent fields that differ between two configs.
func restartFields(old, next *config.Config) []string {
	var fields []string
	if old.Agent.SocketPath != next.Agent.SocketPath {
		fields = append(fields, "agent.socket_path")
	}
	if old.Agent.EnvFile != next.Agent.EnvFile {
		fields = append(fields, "agent.env_file")
	}
	if old.Agent.Keystore != next.Agent.Keystore {
		fields = append(fields, "agent.keystore")
	}
	return fields
}

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent health and key store state",
	Long: `Show agent health and key store state.

Examples:
  mnemosyne agent status
  mnemosyne agent status --json`,

	RunE: mnemo_cli.Wrap(func(rc *mnemo_io.RuntimeContext, cmd *cobra.Command, args []string) error {
		logger := otelzap.Ctx(rc.Ctx)

		cfg, err := cmd_helpers.LoadConfig(rc)
		if err != nil {
			return err
		}
		client, err := cmd_helpers.AgentClient(cfg, rc.Log)
		if err != nil {
			return err
		}

		if _, err := client.Ping(rc.Ctx); err != nil {
			return cerr.Wrapf(err, "agent unreachable at %s", cfg.Agent.SocketPath)
		}

		status, err := client.DetailedStatus(rc.Ctx)
		if err != nil {
			// An older or smaller peer still answers the basic status.
			logger.Debug("Detailed status unavailable, falling back", zap.Error(err))
			status, err = client.Status(rc.Ctx)
			if err != nil {
				return err
			}
		}

		if statusJSON {
			data, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return cerr.Wrap(err, "marshal status")
			}
			fmt.Println(string(data))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "Socket:\t%s\n", cfg.Agent.SocketPath)
		fmt.Fprintf(w, "State:\t%s\n", string(status.State))
		fmt.Fprintf(w, "Protocol:\t%s\n", status.ProtocolVersion)

		keys := make([]string, 0, len(status.Details))
		for k := range status.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s:\t%s\n", k, status.Details[k])
		}
		return nil
	}),
}

func init() {
	AgentCmd.AddCommand(serveCmd)
	AgentCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
}

// pkg/cmd_helpers/container.go

// Package cmd_helpers provides common helpers for command implementations
// so every subcommand wires configuration, credentials, and the restic
// service the same way.
package cmd_helpers

import (
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/config"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/ipc"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/mnemo_io"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/restic"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConfigPath returns the configuration file a command should read: the
// --config flag (or MNEMOSYNE_CONFIG) when set, the system default
// otherwise.
func ConfigPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	return config.DefaultPath
}

// LoadConfig loads and validates the configuration for a command.
func LoadConfig(rc *mnemo_io.RuntimeContext) (*config.Config, error) {
	return config.Load(ConfigPath(), rc.Log)
}

// AgentClient builds a client for the key agent socket named in cfg. The
// client does not dial until first use, so construction succeeds even
// when no agent is running.
func AgentClient(cfg *config.Config, log *zap.Logger) (*ipc.Client, error) {
	return ipc.NewClient(ipc.ClientOptions{
		SocketPath: cfg.Agent.SocketPath,
		Logger:     log,
	})
}

// Credentials builds the repository password chain: the key agent first,
// per-repository password files when the agent is unreachable.
func Credentials(cfg *config.Config, log *zap.Logger) (restic.CredentialSource, error) {
	client, err := AgentClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return restic.FallbackCredentials{
		Primary:   restic.AgentCredentials{Service: client},
		Secondary: restic.FileCredentials{},
		Logger:    log,
	}, nil
}

// BackupContainer wires the serialized runner, credential resolution,
// and the restic service for one repository. Close releases the runner.
type BackupContainer struct {
	Service *restic.Service
	runner  *execute.Runner
}

// NewBackupContainer builds the container for the named repository. An
// empty name resolves the configured default.
func NewBackupContainer(rc *mnemo_io.RuntimeContext, cfg *config.Config, repoName string) (*BackupContainer, error) {
	repo, err := cfg.Repository(repoName)
	if err != nil {
		return nil, err
	}
	if repo.CacheDir == "" {
		repo.CacheDir = cfg.Settings.CacheDir
	}

	creds, err := Credentials(cfg, rc.Log)
	if err != nil {
		return nil, err
	}

	runner := execute.NewRunner(execute.RunnerOptions{Logger: rc.Log})
	svc, err := restic.NewService(restic.ServiceOptions{
		Runner:      runner,
		Repository:  repo,
		Credentials: creds,
		Logger:      rc.Log,
	})
	if err != nil {
		runner.Close()
		return nil, err
	}

	return &BackupContainer{Service: svc, runner: runner}, nil
}

// Close stops the container's runner. Safe to defer immediately after a
// successful NewBackupContainer.
func (c *BackupContainer) Close() {
	c.runner.Close()
}

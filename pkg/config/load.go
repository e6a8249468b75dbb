// pkg/config/load.go

package config

import (
	"os"
	"path/filepath"
	"strings"

	cerr "github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, layers MNEMOSYNE_ environment
// overrides on top, fills defaults, and validates the result. A missing
// file is not an error: the built-in defaults come back instead so
// first-run commands work before anything is configured. An unreadable or
// invalid file is an error; silently ignoring a broken config hides real
// problems.
//
// The file is decoded with yaml.v3 rather than a viper tree because
// repository environment maps hold case-sensitive variable names.
func Load(path string, log *zap.Logger) (*Config, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("No configuration file found, using defaults",
				zap.String("path", path))
			cfg := defaultConfig()
			applyOverrides(cfg)
			return cfg, nil
		}
		return nil, cerr.Wrapf(err, "read config %s", path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cerr.Wrapf(err, "parse config %s", path)
	}

	applyOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, cerr.Wrapf(err, "invalid config %s", path)
	}

	log.Debug("Configuration loaded",
		zap.String("path", path),
		zap.Int("repositories", len(cfg.Repositories)),
		zap.Int("profiles", len(cfg.Profiles)))
	return cfg, nil
}

// applyOverrides layers MNEMOSYNE_ environment variables over the file,
// giving the agent the same override surface flags get elsewhere:
// MNEMOSYNE_AGENT_SOCKET_PATH, MNEMOSYNE_SETTINGS_LOG_LEVEL, and so on.
func applyOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if s := v.GetString("default_repository"); s != "" {
		cfg.DefaultRepository = s
	}
	if s := v.GetString("agent.socket_path"); s != "" {
		cfg.Agent.SocketPath = s
	}
	if s := v.GetString("agent.env_file"); s != "" {
		cfg.Agent.EnvFile = s
	}
	if s := v.GetString("agent.keystore.backend"); s != "" {
		cfg.Agent.Keystore.Backend = s
	}
	if s := v.GetString("agent.keystore.path"); s != "" {
		cfg.Agent.Keystore.Path = s
	}
	if s := v.GetString("agent.keystore.vault_address"); s != "" {
		cfg.Agent.Keystore.VaultAddress = s
	}
	if s := v.GetString("agent.keystore.vault_mount"); s != "" {
		cfg.Agent.Keystore.VaultMount = s
	}
	if s := v.GetString("settings.cache_dir"); s != "" {
		cfg.Settings.CacheDir = s
	}
	if s := v.GetString("settings.log_level"); s != "" {
		cfg.Settings.LogLevel = s
	}
	if n := v.GetInt("settings.parallelism"); n > 0 {
		cfg.Settings.Parallelism = n
	}
}

// applyDefaults fills the agent section so a repositories-only file still
// yields a runnable agent config.
func applyDefaults(cfg *Config) {
	// Map keys are the canonical names. The structs carry them too so
	// log lines and agent key ids see the right name without the caller
	// threading the key around.
	for name, repo := range cfg.Repositories {
		if repo.Name == "" {
			repo.Name = name
			cfg.Repositories[name] = repo
		}
	}
	for name, profile := range cfg.Profiles {
		if profile.Name == "" {
			profile.Name = name
			cfg.Profiles[name] = profile
		}
	}
	if cfg.Agent.SocketPath == "" {
		cfg.Agent.SocketPath = DefaultSocketPath
	}
	if cfg.Agent.Keystore.Backend == "" {
		cfg.Agent.Keystore.Backend = "memory"
	}
	if cfg.Agent.Keystore.Backend == "sqlite" && cfg.Agent.Keystore.Path == "" {
		cfg.Agent.Keystore.Path = DefaultKeystorePath
	}
	if cfg.Settings.Parallelism == 0 {
		cfg.Settings.Parallelism = 1
	}
}

// Save validates and writes the configuration. Repository environment maps
// may carry backend credentials, so the file is written owner-only.
func Save(cfg *Config, path string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return cerr.Wrap(err, "invalid configuration")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return cerr.Wrap(err, "marshal configuration")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerr.Wrapf(err, "create config directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return cerr.Wrapf(err, "write config %s", path)
	}

	log.Info("Configuration saved",
		zap.String("path", path),
		zap.Int("size", len(data)))
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from an env file into the process
// environment, for agent deployments that keep VAULT_TOKEN and backend
// credentials on disk instead of in a unit file. A missing file is fine.
// Variables already set in the environment win over the file.
func LoadEnvFile(path string, log *zap.Logger) error {
	if path == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Debug("Env file absent, skipping", zap.String("path", path))
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return cerr.Wrapf(err, "load env file %s", path)
	}
	log.Debug("Environment file loaded", zap.String("path", path))
	return nil
}

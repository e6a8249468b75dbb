// pkg/config/config.go

// Package config loads and validates the framework's YAML configuration:
// restic repositories, backup profiles, and the key agent's runtime
// settings. Deployment paths live here too so every package agrees on
// where things are.
package config

import (
	"strings"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/restic"
	cerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultPath is where commands look for configuration when no
	// explicit --config flag is given.
	DefaultPath = "/etc/mnemosyne/config.yaml"

	// DefaultSocketPath is the agent's Unix socket.
	DefaultSocketPath = "/run/mnemosyne/agent.sock"

	// DefaultKeystorePath is the agent's SQLite database when the
	// sqlite keystore backend is selected.
	DefaultKeystorePath = "/var/lib/mnemosyne/keys.db"

	// EnvPrefix namespaces environment overrides, so
	// MNEMOSYNE_AGENT_SOCKET_PATH overrides agent.socket_path.
	EnvPrefix = "MNEMOSYNE"
)

// Config is the root of the configuration file.
type Config struct {
	DefaultRepository string                       `yaml:"default_repository,omitempty" json:"default_repository,omitempty" mapstructure:"default_repository"`
	Repositories      map[string]restic.Repository `yaml:"repositories" json:"repositories" mapstructure:"repositories"`
	Profiles          map[string]restic.Profile    `yaml:"profiles,omitempty" json:"profiles,omitempty" mapstructure:"profiles"`
	Agent             Agent                        `yaml:"agent,omitempty" json:"agent,omitempty" mapstructure:"agent"`
	Settings          Settings                     `yaml:"settings,omitempty" json:"settings,omitempty" mapstructure:"settings"`
}

// Agent configures the privileged key agent.
type Agent struct {
	SocketPath string `yaml:"socket_path,omitempty" json:"socket_path,omitempty" mapstructure:"socket_path"`
	// EnvFile is loaded into the process environment before anything
	// else, for deployments that keep VAULT_TOKEN and friends on disk.
	EnvFile  string   `yaml:"env_file,omitempty" json:"env_file,omitempty" mapstructure:"env_file"`
	Keystore Keystore `yaml:"keystore,omitempty" json:"keystore,omitempty" mapstructure:"keystore"`
}

// Keystore selects where the agent persists key material.
type Keystore struct {
	Backend      string `yaml:"backend,omitempty" json:"backend,omitempty" mapstructure:"backend" validate:"omitempty,oneof=memory sqlite vault"`
	Path         string `yaml:"path,omitempty" json:"path,omitempty" mapstructure:"path"`
	VaultAddress string `yaml:"vault_address,omitempty" json:"vault_address,omitempty" mapstructure:"vault_address"`
	VaultMount   string `yaml:"vault_mount,omitempty" json:"vault_mount,omitempty" mapstructure:"vault_mount"`
}

// Settings holds operational knobs that do not change what gets backed up.
type Settings struct {
	Parallelism int    `yaml:"parallelism,omitempty" json:"parallelism,omitempty" mapstructure:"parallelism" validate:"omitempty,min=1,max=32"`
	CacheDir    string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty" mapstructure:"cache_dir"`
	LogLevel    string `yaml:"log_level,omitempty" json:"log_level,omitempty" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// dangerousPatterns are rejected anywhere in a repository URL. The URL
// becomes a child-process argument and environment value and must never
// smuggle traversal segments or shell metacharacters.
var dangerousPatterns = []string{"..", ";", "|", "&", "$", "`", "\x00", "\n"}

func containsDangerous(s string) bool {
	for _, p := range dangerousPatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Validate checks cross-field consistency: every profile must resolve to a
// defined repository and every repository must be invocable.
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return cerr.New("no repositories configured")
	}

	for name, repo := range c.Repositories {
		if repo.Backend == "" {
			return cerr.Newf("repository %q missing backend type", name)
		}
		if repo.URL == "" {
			return cerr.Newf("repository %q missing URL", name)
		}
		if containsDangerous(repo.URL) {
			return cerr.Newf("repository %q URL contains unsafe characters", name)
		}
	}

	if c.DefaultRepository != "" {
		if _, ok := c.Repositories[c.DefaultRepository]; !ok {
			return cerr.Newf("default repository %q is not defined", c.DefaultRepository)
		}
	}

	for name, profile := range c.Profiles {
		if len(profile.Paths) == 0 {
			return cerr.Newf("profile %q has no paths configured", name)
		}
		target := profile.Repository
		if target == "" {
			target = c.DefaultRepository
		}
		if target == "" {
			return cerr.Newf("profile %q names no repository and no default repository is set", name)
		}
		if _, ok := c.Repositories[target]; !ok {
			return cerr.Newf("profile %q references unknown repository %q", name, target)
		}
	}

	if err := validator.New().Struct(c); err != nil {
		return cerr.Wrap(err, "invalid configuration")
	}
	return nil
}

// Repository resolves a repository by name, falling back to the default
// when name is empty.
func (c *Config) Repository(name string) (restic.Repository, error) {
	if name == "" {
		name = c.DefaultRepository
	}
	if name == "" {
		return restic.Repository{}, cerr.New("no repository named and no default repository is set")
	}
	repo, ok := c.Repositories[name]
	if !ok {
		return restic.Repository{}, cerr.Newf("unknown repository %q", name)
	}
	return repo, nil
}

// Profile resolves a profile by name.
func (c *Config) Profile(name string) (restic.Profile, error) {
	profile, ok := c.Profiles[name]
	if !ok {
		return restic.Profile{}, cerr.Newf("unknown profile %q", name)
	}
	return profile, nil
}

// defaultConfig is what first-run commands see before any file exists: a
// local repository and a conservative system profile.
func defaultConfig() *Config {
	return &Config{
		DefaultRepository: "local",
		Repositories: map[string]restic.Repository{
			"local": {
				Name:    "local",
				Backend: "local",
				URL:     "/var/lib/mnemosyne/backups",
			},
		},
		Profiles: map[string]restic.Profile{
			"system": {
				Name:       "system",
				Repository: "local",
				Paths:      []string{"/etc", "/var/lib/mnemosyne"},
				Excludes:   []string{"*.tmp"},
				Tags:       []string{"system"},
				Retention:  &restic.Retention{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6},
			},
		},
		Agent: Agent{
			SocketPath: DefaultSocketPath,
			Keystore:   Keystore{Backend: "memory"},
		},
		Settings: Settings{Parallelism: 1},
	}
}

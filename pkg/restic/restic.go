// pkg/restic/restic.go

// Package restic builds typed restic invocations and orchestrates them
// through the serializing command runner. Repository passwords come from
// a credential source, reach the child only through its environment, and
// never appear in logs or command strings.
package restic

import (
	"strconv"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/execute"
)

// Binary is the executable name resolved through PATH.
const Binary = "restic"

// Environment keys of the restic invocation contract. The password entry
// is required even when empty: its absence makes restic prompt on the
// terminal, which a non-interactive runner cannot answer.
const (
	EnvRepository = "RESTIC_REPOSITORY"
	EnvPassword   = "RESTIC_PASSWORD"
	EnvCacheDir   = "RESTIC_CACHE_DIR"
)

// Codes maps restic's documented exit codes onto the runner taxonomy:
// 1 generic failure, 3 source-read errors (repository band), 10 repository
// does not exist, 11 repository lock failure, 12 wrong password
// (authentication band).
var Codes = execute.CodeMap{
	1:   execute.KindGeneric,
	3:   execute.KindRepository,
	10:  execute.KindRepository,
	11:  execute.KindRepository,
	12:  execute.KindAuthentication,
	101: execute.KindAuthentication,
}

// Repository identifies one restic repository and the backend environment
// needed to reach it.
type Repository struct {
	Name    string `yaml:"name" json:"name" mapstructure:"name"`
	Backend string `yaml:"backend" json:"backend" mapstructure:"backend"`
	URL     string `yaml:"url" json:"url" mapstructure:"url"`
	// Environment carries backend credentials (S3 keys, REST auth)
	// verbatim into the child environment.
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty" mapstructure:"environment"`
	// CacheDir overrides restic's cache location; empty inherits.
	CacheDir string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty" mapstructure:"cache_dir"`
}

// Profile describes what one backup run covers.
type Profile struct {
	Name        string     `yaml:"name" json:"name" mapstructure:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`
	Repository  string     `yaml:"repository" json:"repository" mapstructure:"repository"`
	Paths       []string   `yaml:"paths" json:"paths" mapstructure:"paths"`
	Excludes    []string   `yaml:"excludes,omitempty" json:"excludes,omitempty" mapstructure:"excludes"`
	Tags        []string   `yaml:"tags,omitempty" json:"tags,omitempty" mapstructure:"tags"`
	Host        string     `yaml:"host,omitempty" json:"host,omitempty" mapstructure:"host"`
	Retention   *Retention `yaml:"retention,omitempty" json:"retention,omitempty" mapstructure:"retention"`
}

// Retention is a restic forget policy. Zero fields emit no flag.
type Retention struct {
	KeepLast    int `yaml:"keep_last,omitempty" json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDaily   int `yaml:"keep_daily,omitempty" json:"keep_daily,omitempty" mapstructure:"keep_daily"`
	KeepWeekly  int `yaml:"keep_weekly,omitempty" json:"keep_weekly,omitempty" mapstructure:"keep_weekly"`
	KeepMonthly int `yaml:"keep_monthly,omitempty" json:"keep_monthly,omitempty" mapstructure:"keep_monthly"`
	KeepYearly  int `yaml:"keep_yearly,omitempty" json:"keep_yearly,omitempty" mapstructure:"keep_yearly"`
}

// Empty reports whether the policy keeps nothing, which is not a policy
// worth invoking forget for.
func (r Retention) Empty() bool {
	return r.KeepLast == 0 && r.KeepDaily == 0 && r.KeepWeekly == 0 &&
		r.KeepMonthly == 0 && r.KeepYearly == 0
}

func (r Retention) args() []string {
	var out []string
	if r.KeepLast > 0 {
		out = append(out, "--keep-last", strconv.Itoa(r.KeepLast))
	}
	if r.KeepDaily > 0 {
		out = append(out, "--keep-daily", strconv.Itoa(r.KeepDaily))
	}
	if r.KeepWeekly > 0 {
		out = append(out, "--keep-weekly", strconv.Itoa(r.KeepWeekly))
	}
	if r.KeepMonthly > 0 {
		out = append(out, "--keep-monthly", strconv.Itoa(r.KeepMonthly))
	}
	if r.KeepYearly > 0 {
		out = append(out, "--keep-yearly", strconv.Itoa(r.KeepYearly))
	}
	return out
}

// command starts a builder with the repository environment applied. The
// cache dir entry is optional, so an empty value drops out at merge time
// instead of clearing restic's default.
func (r Repository) command(password, verb string) *execute.Builder {
	b := execute.NewCommand("restic-"+verb, Binary).
		WithArgs(verb).
		WithEnv(EnvRepository, r.URL).
		WithEnv(EnvPassword, password).
		WithRequiredEnv(EnvPassword).
		WithEnv(EnvCacheDir, r.CacheDir)
	for k, v := range r.Environment {
		b.WithEnv(k, v)
	}
	return b
}

// BackupCommand backs up the profile's paths with JSON progress output.
func (r Repository) BackupCommand(password string, p Profile) execute.Command {
	b := r.command(password, "backup").WithArgs(p.Paths...)
	for _, exclude := range p.Excludes {
		b.WithArgs("--exclude", exclude)
	}
	for _, tag := range p.Tags {
		b.WithArgs("--tag", tag)
	}
	if p.Host != "" {
		b.WithArgs("--host", p.Host)
	}
	return b.WithArgs("--json").Build()
}

// RestoreCommand restores one snapshot into target.
func (r Repository) RestoreCommand(password, snapshotID, target string) execute.Command {
	return r.command(password, "restore").
		WithArgs(snapshotID, "--target", target).
		Build()
}

// SnapshotsCommand lists snapshots as JSON.
func (r Repository) SnapshotsCommand(password string) execute.Command {
	return r.command(password, "snapshots").WithArgs("--json").Build()
}

// InitCommand creates the repository.
func (r Repository) InitCommand(password string) execute.Command {
	return r.command(password, "init").
		WithArgs("--repository-version", "2").
		Build()
}

// CheckCommand verifies repository integrity. A non-empty subset (for
// example "1/10") additionally reads and verifies that fraction of the
// pack data.
func (r Repository) CheckCommand(password, subset string) execute.Command {
	b := r.command(password, "check")
	if subset != "" {
		b.WithArgs("--read-data-subset=" + subset)
	}
	return b.Build()
}

// ForgetCommand applies a retention policy, optionally pruning unreferenced
// data afterwards. Tags narrow the policy to matching snapshots.
func (r Repository) ForgetCommand(password string, ret Retention, tags []string, prune bool) execute.Command {
	b := r.command(password, "forget")
	if prune {
		b.WithArgs("--prune")
	}
	b.WithArgs(ret.args()...)
	for _, tag := range tags {
		b.WithArgs("--tag", tag)
	}
	return b.Build()
}

// UnlockCommand removes stale repository locks.
func (r Repository) UnlockCommand(password string) execute.Command {
	return r.command(password, "unlock").Build()
}

// StatsCommand reports repository size statistics as JSON.
func (r Repository) StatsCommand(password string) execute.Command {
	return r.command(password, "stats").WithArgs("--json").Build()
}

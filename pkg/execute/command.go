// pkg/execute/command.go

// Package execute models single invocations of external executables and
// runs them through a serializing Runner. Commands are built once, validated,
// executed once, and discarded; the Runner guarantees at most one child
// process in flight per instance because the wrapped tools do not tolerate
// concurrent invocation against shared on-disk state.
package execute

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Command describes one invocation of an external executable. Construct it
// through NewCommand; treat it as immutable once handed to a Runner.
type Command struct {
	// Name identifies the invocation in logs and error messages.
	Name string
	// Binary is the path of the executable to spawn.
	Binary string
	// Args is the ordered argument vector, exec-style (no shell).
	Args []string
	// Env holds environment entries layered over the ambient environment.
	Env map[string]string
	// RequiredEnv names entries of Env that must reach the child even when
	// their value is the empty string.
	RequiredEnv []string
	// Dir is the working directory; empty means inherit.
	Dir string
	// Timeout bounds the single execution; zero means the caller's context
	// alone governs cancellation.
	Timeout time.Duration
}

// Builder assembles a Command. Not safe for concurrent use.
type Builder struct {
	cmd Command
}

// NewCommand starts building a command with its log name and executable path.
func NewCommand(name, binary string) *Builder {
	return &Builder{cmd: Command{Name: name, Binary: binary}}
}

// WithArgs appends arguments in order.
func (b *Builder) WithArgs(args ...string) *Builder {
	b.cmd.Args = append(b.cmd.Args, args...)
	return b
}

// WithEnv sets one environment entry. Empty values are dropped at merge
// time unless the key is also marked required.
func (b *Builder) WithEnv(key, value string) *Builder {
	if b.cmd.Env == nil {
		b.cmd.Env = make(map[string]string)
	}
	b.cmd.Env[key] = value
	return b
}

// WithRequiredEnv marks keys whose entries survive the merge even when empty.
func (b *Builder) WithRequiredEnv(keys ...string) *Builder {
	b.cmd.RequiredEnv = append(b.cmd.RequiredEnv, keys...)
	return b
}

// WithDir sets the child's working directory.
func (b *Builder) WithDir(dir string) *Builder {
	b.cmd.Dir = dir
	return b
}

// WithTimeout bounds the execution.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.cmd.Timeout = d
	return b
}

// Build returns the assembled command. The result does not alias the
// builder, so a builder can be tweaked and built again without the earlier
// command changing underneath its runner.
func (b *Builder) Build() Command {
	out := b.cmd
	out.Args = append([]string(nil), b.cmd.Args...)
	out.RequiredEnv = append([]string(nil), b.cmd.RequiredEnv...)
	if b.cmd.Env != nil {
		out.Env = make(map[string]string, len(b.cmd.Env))
		for k, v := range b.cmd.Env {
			out.Env[k] = v
		}
	}
	return out
}

// Validate checks the structural minimum before execution: a non-empty name
// and binary path. Argument semantics stay the caller's responsibility.
// Validate is pure; calling it repeatedly yields the same result.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &Error{Kind: KindValidation, ExitCode: -1, Reason: "command name is empty"}
	}
	if strings.TrimSpace(c.Binary) == "" {
		return &Error{Kind: KindValidation, Command: c.Name, ExitCode: -1, Reason: "executable path is empty"}
	}
	return nil
}

// MergedEnv merges the ambient environment with the command's entries.
// Command entries override ambient ones. Empty-valued entries are dropped
// unless required, so a blank optional value cannot shadow an ambient
// value. New keys are appended in sorted order for deterministic output.
func (c Command) MergedEnv(ambient []string) []string {
	required := make(map[string]bool, len(c.RequiredEnv))
	for _, k := range c.RequiredEnv {
		required[k] = true
	}

	effective := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		if v == "" && !required[k] {
			continue
		}
		effective[k] = v
	}

	out := make([]string, 0, len(ambient)+len(effective))
	seen := make(map[string]bool, len(effective))
	for _, kv := range ambient {
		k, _, ok := strings.Cut(kv, "=")
		if ok {
			if v, hit := effective[k]; hit {
				if !seen[k] {
					out = append(out, k+"="+v)
					seen[k] = true
				}
				continue
			}
		}
		out = append(out, kv)
	}

	rest := make([]string, 0, len(effective))
	for k := range effective {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, k+"="+effective[k])
	}
	return out
}

// String renders the invocation for logs. Environment values never appear,
// only key names; commands routinely carry repository passwords.
func (c Command) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s", c.Name, c.Binary)
	for _, a := range c.Args {
		sb.WriteString(" ")
		sb.WriteString(a)
	}
	sb.WriteString("]")
	if len(c.Env) > 0 {
		keys := make([]string, 0, len(c.Env))
		for k := range c.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&sb, " env=%s", strings.Join(keys, ","))
	}
	return sb.String()
}

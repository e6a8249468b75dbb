// pkg/execute/runner.go

package execute

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/telemetry"
	cerr "github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrRunnerClosed is returned for commands submitted after Close.
var ErrRunnerClosed = cerr.New("execute: runner is closed")

// Result is the outcome of a completed command.
type Result struct {
	// Stdout is the child's full standard output, UTF-8 decoded. Populated
	// best-effort on failure too; callers diagnosing a failure should
	// prefer the Stderr carried on the error.
	Stdout string
	// ExitCode is the child's exit code; -1 when no process ran.
	ExitCode int
	// Duration covers spawn to exit.
	Duration time.Duration
}

// SpawnFunc starts the process and waits for it. A non-nil error means the
// process could not be started at all; a non-zero exit is reported through
// code with a nil error. Tests substitute this to run without real children.
type SpawnFunc func(ctx context.Context, binary string, args, env []string, dir string) (stdout, stderr []byte, code int, err error)

// RunnerOptions configures a Runner. The zero value is usable: nop logger,
// DefaultCodes, real process spawning.
type RunnerOptions struct {
	Logger *zap.Logger
	Codes  CodeMap
	Spawn  SpawnFunc
}

// Runner executes commands strictly one at a time in submission order.
// Serialization is a correctness requirement: the wrapped tools hold
// on-disk state (repository locks, caches) that concurrent invocations
// corrupt. Safe for concurrent use; callers queue.
type Runner struct {
	log   *zap.Logger
	codes CodeMap
	spawn SpawnFunc

	queue chan job
	done  chan struct{}
	once  sync.Once
}

type job struct {
	ctx   context.Context
	cmd   Command
	reply chan outcome
}

type outcome struct {
	res Result
	err error
}

// NewRunner starts the runner's dispatch loop. Call Close when done with it.
func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		log:   opts.Logger,
		codes: opts.Codes,
		spawn: opts.Spawn,
		queue: make(chan job),
		done:  make(chan struct{}),
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.codes == nil {
		r.codes = DefaultCodes
	}
	if r.spawn == nil {
		r.spawn = systemSpawn
	}
	go r.dispatch()
	return r
}

// Close stops accepting commands and rejects anything still queued. Safe to
// call more than once. A command already running is not interrupted; its
// caller still receives the outcome.
func (r *Runner) Close() {
	r.once.Do(func() { close(r.done) })
}

// Run validates cmd and executes it when its turn in the queue arrives.
// Concurrent callers block until earlier submissions finish. A caller whose
// context expires while queued or running gets KindCancelled; the runner
// discards the late outcome safely.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	j := job{ctx: ctx, cmd: cmd, reply: make(chan outcome, 1)}

	select {
	case r.queue <- j:
	case <-ctx.Done():
		return Result{ExitCode: -1}, &Error{Kind: KindCancelled, Command: cmd.Name, ExitCode: -1, cause: ctx.Err()}
	case <-r.done:
		return Result{ExitCode: -1}, &Error{Kind: KindExecution, Command: cmd.Name, ExitCode: -1, cause: ErrRunnerClosed}
	}

	// The reply channel is buffered, so the dispatcher completes and moves
	// on even if this caller has already given up.
	select {
	case out := <-j.reply:
		return out.res, out.err
	case <-ctx.Done():
		return Result{ExitCode: -1}, &Error{Kind: KindCancelled, Command: cmd.Name, ExitCode: -1, cause: ctx.Err()}
	}
}

// dispatch owns execution order. The queue channel is unbuffered, so
// submission order is execution order and a send can never strand a job
// after the loop exits.
func (r *Runner) dispatch() {
	for {
		select {
		case j := <-r.queue:
			j.reply <- r.runOne(j.ctx, j.cmd)
		case <-r.done:
			for {
				select {
				case j := <-r.queue:
					j.reply <- outcome{
						res: Result{ExitCode: -1},
						err: &Error{Kind: KindExecution, Command: j.cmd.Name, ExitCode: -1, cause: ErrRunnerClosed},
					}
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) runOne(ctx context.Context, cmd Command) outcome {
	if err := ctx.Err(); err != nil {
		return outcome{
			res: Result{ExitCode: -1},
			err: &Error{Kind: KindCancelled, Command: cmd.Name, ExitCode: -1, cause: err},
		}
	}

	ctx, span := telemetry.Start(ctx, "execute.run",
		attribute.String("command", cmd.Name),
		attribute.String("binary", cmd.Binary),
	)
	defer span.End()

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	r.log.Info("Executing command", zap.String("command", cmd.Name), zap.String("binary", cmd.Binary), zap.Strings("args", cmd.Args))

	start := time.Now()
	stdout, stderr, code, spawnErr := r.spawn(ctx, cmd.Binary, cmd.Args, cmd.MergedEnv(os.Environ()), cmd.Dir)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int("exit_code", code))

	if spawnErr != nil {
		if ctx.Err() != nil {
			return outcome{
				res: Result{ExitCode: -1, Duration: elapsed},
				err: &Error{Kind: KindCancelled, Command: cmd.Name, ExitCode: -1, cause: ctx.Err()},
			}
		}
		span.RecordError(spawnErr)
		r.log.Error("Command spawn failed", zap.String("command", cmd.Name), zap.String("binary", cmd.Binary), zap.Error(spawnErr))
		return outcome{
			res: Result{ExitCode: -1, Duration: elapsed},
			err: &Error{Kind: KindExecution, Command: cmd.Name, ExitCode: -1, cause: spawnErr},
		}
	}

	if code != 0 {
		if ctx.Err() != nil {
			return outcome{
				res: Result{Stdout: string(stdout), ExitCode: code, Duration: elapsed},
				err: &Error{Kind: KindCancelled, Command: cmd.Name, ExitCode: code, cause: ctx.Err()},
			}
		}
		kind := r.codes.Classify(code)
		errText := string(stderr)
		r.log.Error("Command failed",
			zap.String("command", cmd.Name),
			zap.Int("exit_code", code),
			zap.String("classification", kind.String()),
			zap.String("summary", ExtractSummary(errText, 2)),
			zap.Duration("duration", elapsed),
		)
		return outcome{
			res: Result{Stdout: string(stdout), ExitCode: code, Duration: elapsed},
			err: &Error{Kind: kind, Command: cmd.Name, ExitCode: code, Stderr: errText},
		}
	}

	if !utf8.Valid(stdout) {
		r.log.Error("Command produced undecodable output", zap.String("command", cmd.Name), zap.Int("stdout_bytes", len(stdout)))
		return outcome{
			res: Result{ExitCode: 0, Duration: elapsed},
			err: &Error{Kind: KindOutputDecoding, Command: cmd.Name, ExitCode: 0, Reason: "stdout is not valid UTF-8"},
		}
	}

	r.log.Info("Command completed", zap.String("command", cmd.Name), zap.Duration("duration", elapsed), zap.Int("stdout_bytes", len(stdout)))
	return outcome{res: Result{Stdout: string(stdout), ExitCode: 0, Duration: elapsed}}
}

// systemSpawn runs the process for real. Output is captured fully, not
// streamed; this layer wraps CLI tools whose output fits in memory.
func systemSpawn(ctx context.Context, binary string, args, env []string, dir string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Env = env
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
		}
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

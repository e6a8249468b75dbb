// pkg/execute/runner_test.go

package execute

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// stubSpawn builds a SpawnFunc returning fixed output without spawning.
func stubSpawn(stdout, stderr []byte, code int, err error) SpawnFunc {
	return func(context.Context, string, []string, []string, string) ([]byte, []byte, int, error) {
		return stdout, stderr, code, err
	}
}

func testCommand(name string) Command {
	return NewCommand(name, "/usr/bin/restic").WithArgs("snapshots", "--json").Build()
}

func TestRunSuccessCarriesStdout(t *testing.T) {
	r := NewRunner(RunnerOptions{
		Logger: zaptest.NewLogger(t),
		Spawn:  stubSpawn([]byte("snapshot list\n"), nil, 0, nil),
	})
	defer r.Close()

	res, err := r.Run(context.Background(), testCommand("snapshots"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "snapshot list\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunClassifiesExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantKind Kind
	}{
		{"generic band", 1, KindGeneric},
		{"repository band", 3, KindRepository},
		{"authentication band", 101, KindAuthentication},
		{"unmapped code stays generic", 7, KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(RunnerOptions{
				Spawn: stubSpawn(nil, []byte("repo locked"), tt.code, nil),
			})
			defer r.Close()

			res, err := r.Run(context.Background(), testCommand("check"))
			if err == nil {
				t.Fatal("Run() succeeded for a non-zero exit")
			}

			var ee *Error
			if !errors.As(err, &ee) {
				t.Fatalf("error type = %T", err)
			}
			if ee.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", ee.Kind, tt.wantKind)
			}
			if ee.ExitCode != tt.code {
				t.Errorf("error exit code = %d, want %d", ee.ExitCode, tt.code)
			}
			if res.ExitCode != tt.code {
				t.Errorf("result exit code = %d, want %d", res.ExitCode, tt.code)
			}
			if ee.Stderr != "repo locked" {
				t.Errorf("stderr = %q, must be preserved verbatim", ee.Stderr)
			}
		})
	}
}

func TestRunStderrPreservedVerbatim(t *testing.T) {
	stderr := "Fatal: unable to open config file\nIs there a repository at the following location?\n/srv/backups\n"
	r := NewRunner(RunnerOptions{
		Spawn: stubSpawn(nil, []byte(stderr), 1, nil),
	})
	defer r.Close()

	_, err := r.Run(context.Background(), testCommand("check"))
	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("error type = %T", err)
	}
	if ee.Stderr != stderr {
		t.Errorf("stderr modified:\nwant %q\ngot  %q", stderr, ee.Stderr)
	}
	if !strings.Contains(err.Error(), "unable to open config file") {
		t.Errorf("message dropped the diagnostic text: %v", err)
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := NewRunner(RunnerOptions{
		Spawn: stubSpawn(nil, nil, -1, os.ErrNotExist),
	})
	defer r.Close()

	_, err := r.Run(context.Background(), testCommand("backup"))
	if !IsKind(err, KindExecution) {
		t.Fatalf("kind = %v, want execution failure", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("spawn error must stay reachable via errors.Is")
	}
}

func TestRunRejectsUndecodableStdout(t *testing.T) {
	r := NewRunner(RunnerOptions{
		Spawn: stubSpawn([]byte{0xff, 0xfe, 0x01}, nil, 0, nil),
	})
	defer r.Close()

	_, err := r.Run(context.Background(), testCommand("snapshots"))
	if !IsKind(err, KindOutputDecoding) {
		t.Fatalf("kind = %v, want output decoding failure", err)
	}
}

func TestRunValidatesBeforeSpawning(t *testing.T) {
	var spawned atomic.Bool
	r := NewRunner(RunnerOptions{
		Spawn: func(context.Context, string, []string, []string, string) ([]byte, []byte, int, error) {
			spawned.Store(true)
			return nil, nil, 0, nil
		},
	})
	defer r.Close()

	_, err := r.Run(context.Background(), Command{Name: "broken"})
	if !IsKind(err, KindValidation) {
		t.Fatalf("kind = %v, want validation failure", err)
	}
	if spawned.Load() {
		t.Error("invalid command must not reach the spawn layer")
	}
}

func TestRunPassesMergedEnvToSpawn(t *testing.T) {
	var gotEnv []string
	r := NewRunner(RunnerOptions{
		Spawn: func(_ context.Context, _ string, _ []string, env []string, _ string) ([]byte, []byte, int, error) {
			gotEnv = env
			return nil, nil, 0, nil
		},
	})
	defer r.Close()

	cmd := NewCommand("backup", "/usr/bin/restic").
		WithEnv("RESTIC_PASSWORD", "").
		WithRequiredEnv("RESTIC_PASSWORD").
		Build()

	if _, err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !containsEntry(gotEnv, "RESTIC_PASSWORD=") {
		t.Error("required empty entry did not reach the child environment")
	}
	if len(gotEnv) <= 1 {
		t.Error("ambient environment missing from the merge")
	}
}

func TestRunSerializesConcurrentCallers(t *testing.T) {
	const callers = 8

	var inFlight atomic.Int32
	var entries []string // guarded by serialization itself; -race flags violations
	r := NewRunner(RunnerOptions{
		Logger: zaptest.NewLogger(t),
		Spawn: func(_ context.Context, _ string, args, _ []string, _ string) ([]byte, []byte, int, error) {
			if n := inFlight.Add(1); n != 1 {
				t.Errorf("%d executions in flight, want 1", n)
			}
			entries = append(entries, args[len(args)-1])
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil, 0, nil
		},
	})
	defer r.Close()

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			cmd := NewCommand("backup", "/usr/bin/restic").
				WithArgs("backup", string(rune('a'+id))).
				Build()
			if _, err := r.Run(context.Background(), cmd); err != nil {
				t.Errorf("caller %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if len(entries) != callers {
		t.Errorf("got %d executions, want %d", len(entries), callers)
	}
}

func TestRunExecutesInSubmissionOrder(t *testing.T) {
	release := make(chan struct{})
	var order []string
	r := NewRunner(RunnerOptions{
		Spawn: func(_ context.Context, _ string, args, _ []string, _ string) ([]byte, []byte, int, error) {
			order = append(order, args[0])
			if args[0] == "first" {
				<-release
			}
			return nil, nil, 0, nil
		},
	})
	defer r.Close()

	var wg sync.WaitGroup
	run := func(label string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := NewCommand(label, "/usr/bin/restic").WithArgs(label).Build()
			if _, err := r.Run(context.Background(), cmd); err != nil {
				t.Errorf("%s: %v", label, err)
			}
		}()
	}

	run("first")
	time.Sleep(20 * time.Millisecond) // first is inside spawn, holding the queue
	run("second")
	time.Sleep(20 * time.Millisecond) // second parked in the queue before third
	run("third")
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	want := []string{"first", "second", "third"}
	if !equalStrings(order, want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}
}

func TestRunCancelledWhileQueued(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(RunnerOptions{
		Spawn: stubSpawn(nil, nil, 0, nil),
	})
	defer r.Close()

	_, err := r.Run(ctx, testCommand("backup"))
	if !IsKind(err, KindCancelled) {
		t.Fatalf("kind = %v, want cancelled", err)
	}
}

func TestRunCancelledDuringExecution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := NewRunner(RunnerOptions{
		Spawn: func(ctx context.Context, _ string, _, _ []string, _ string) ([]byte, []byte, int, error) {
			cancel()
			<-ctx.Done()
			return nil, nil, -1, ctx.Err()
		},
	})
	defer r.Close()

	_, err := r.Run(ctx, testCommand("backup"))
	if !IsKind(err, KindCancelled) {
		t.Fatalf("kind = %v, want cancelled", err)
	}
}

func TestRunAfterCloseFails(t *testing.T) {
	r := NewRunner(RunnerOptions{
		Spawn: stubSpawn(nil, nil, 0, nil),
	})
	r.Close()
	r.Close() // idempotent

	_, err := r.Run(context.Background(), testCommand("backup"))
	if !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("error = %v, want ErrRunnerClosed", err)
	}
}

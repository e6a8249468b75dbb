// pkg/restic/service_test.go

package restic

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type spawnCall struct {
	binary string
	args   []string
	env    []string
}

type spawnResult struct {
	stdout string
	stderr string
	code   int
}

// scriptedSpawn records invocations and answers from a scripted queue.
// An exhausted queue answers success with no output.
type scriptedSpawn struct {
	mu    sync.Mutex
	calls []spawnCall
	queue []spawnResult
}

func (s *scriptedSpawn) respond(stdout, stderr string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, spawnResult{stdout: stdout, stderr: stderr, code: code})
}

func (s *scriptedSpawn) spawn(_ context.Context, binary string, args, env []string, _ string) ([]byte, []byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spawnCall{binary: binary, args: args, env: env})
	if len(s.queue) == 0 {
		return nil, nil, 0, nil
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return []byte(r.stdout), []byte(r.stderr), r.code, nil
}

func (s *scriptedSpawn) call(t *testing.T, i int) spawnCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.calls), i, "expected at least %d spawn calls", i+1)
	return s.calls[i]
}

func (s *scriptedSpawn) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestService(t *testing.T) (*Service, *scriptedSpawn) {
	t.Helper()
	spawn := &scriptedSpawn{}
	runner := execute.NewRunner(execute.RunnerOptions{
		Logger: zaptest.NewLogger(t),
		Codes:  Codes,
		Spawn:  spawn.spawn,
	})
	t.Cleanup(runner.Close)

	svc, err := NewService(ServiceOptions{
		Runner:      runner,
		Repository:  testRepo(),
		Credentials: StaticCredentials{Password: securebuf.FromString("hunter2")},
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return svc, spawn
}

func TestServiceRequiresCollaborators(t *testing.T) {
	runner := execute.NewRunner(execute.RunnerOptions{})
	t.Cleanup(runner.Close)
	creds := StaticCredentials{Password: securebuf.FromString("pw")}

	_, err := NewService(ServiceOptions{Repository: testRepo(), Credentials: creds})
	assert.Error(t, err)

	_, err = NewService(ServiceOptions{Runner: runner, Repository: testRepo()})
	assert.Error(t, err)

	_, err = NewService(ServiceOptions{Runner: runner, Repository: Repository{Name: "no-url"}, Credentials: creds})
	assert.Error(t, err)
}

func TestBackupParsesSummaryAndAppliesRetention(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond(backupStreamJSON, "", 0) // backup
	spawn.respond("", "", 0)               // forget

	keep := &Retention{KeepLast: 7}
	summary, err := svc.Backup(context.Background(), Profile{
		Name:      "system",
		Paths:     []string{"/etc"},
		Tags:      []string{"system"},
		Retention: keep,
	})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, "551d1520", summary.SnapshotID)

	require.Equal(t, 2, spawn.callCount())

	backup := spawn.call(t, 0)
	assert.Equal(t, Binary, backup.binary)
	assert.Equal(t, "backup", backup.args[0])
	assert.Contains(t, backup.args, "/etc")
	assert.Contains(t, backup.args, "--json")
	assert.Contains(t, backup.env, "RESTIC_REPOSITORY=/srv/backups/primary")
	assert.Contains(t, backup.env, "RESTIC_PASSWORD=hunter2")

	forget := spawn.call(t, 1)
	assert.Equal(t, []string{"forget", "--prune", "--keep-last", "7", "--tag", "system"}, forget.args)
}

func TestBackupWithoutSummaryFails(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond(`{"message_type":"status","percent_done":1}`, "", 0)

	_, err := svc.Backup(context.Background(), Profile{Name: "p", Paths: []string{"/etc"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no summary")
}

func TestBackupRetentionFailureDoesNotFailTheBackup(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond(backupStreamJSON, "", 0)
	spawn.respond("", "Fatal: unable to create lock in backend", 11)

	summary, err := svc.Backup(context.Background(), Profile{
		Name:      "system",
		Paths:     []string{"/etc"},
		Retention: &Retention{KeepDaily: 7},
	})
	require.NoError(t, err, "the snapshot exists; retention is advisory")
	assert.Equal(t, "551d1520", summary.SnapshotID)
}

func TestBackupFailureClassifiesAndPreservesStderr(t *testing.T) {
	svc, spawn := newTestService(t)
	stderr := "Fatal: unable to open repository at /srv/backups/primary: no such file or directory\n"
	spawn.respond("", stderr, 10)

	_, err := svc.Backup(context.Background(), Profile{Name: "p", Paths: []string{"/etc"}})
	require.Error(t, err)
	assert.True(t, execute.IsKind(err, execute.KindRepository))

	var ee *execute.Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, stderr, ee.Stderr, "stderr travels verbatim")
	assert.Equal(t, 10, ee.ExitCode)
}

func TestInitToleratesAlreadyInitialized(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond("", "Fatal: create repository at /srv/backups/primary failed: config file already exists... already initialized\n", 1)

	require.NoError(t, svc.Init(context.Background()))
}

func TestInitSurfacesOtherFailures(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond("", "Fatal: wrong password or no key found\n", 12)

	err := svc.Init(context.Background())
	require.Error(t, err)
	assert.True(t, execute.IsKind(err, execute.KindAuthentication))
}

func TestSnapshotsParsesRunnerOutput(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond(snapshotListJSON, "", 0)

	snapshots, err := svc.Snapshots(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
	assert.Equal(t, []string{"snapshots", "--json"}, spawn.call(t, 0).args)
}

func TestRestoreCreatesTargetDirectory(t *testing.T) {
	svc, spawn := newTestService(t)
	target := filepath.Join(t.TempDir(), "restore", "nested")

	require.NoError(t, svc.Restore(context.Background(), "551d1520", target))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	call := spawn.call(t, 0)
	assert.Equal(t, []string{"restore", "551d1520", "--target", target}, call.args)
}

func TestRestoreRequiresSnapshotID(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.Restore(context.Background(), "", t.TempDir())
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	svc, spawn := newTestService(t)
	spawn.respond(`{"total_size":1024,"total_file_count":3,"snapshots_count":1}`, "", 0)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), stats.TotalSize)
}

func TestForgetRejectsEmptyPolicy(t *testing.T) {
	svc, spawn := newTestService(t)
	err := svc.Forget(context.Background(), Retention{}, nil, true)
	require.Error(t, err)
	assert.Equal(t, 0, spawn.callCount(), "nothing should run for a keep-nothing policy")
}

func TestUnlock(t *testing.T) {
	svc, spawn := newTestService(t)
	require.NoError(t, svc.Unlock(context.Background()))
	assert.Equal(t, []string{"unlock"}, spawn.call(t, 0).args)
}

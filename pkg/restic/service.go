// pkg/restic/service.go

package restic

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/mnemosyne/pkg/securebuf"
	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// progressInterval throttles progress log lines during a backup.
const progressInterval = time.Second

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Runner executes the commands. Required; the caller owns its lifecycle.
	Runner *execute.Runner
	// Repository is the repository all operations target.
	Repository Repository
	// Credentials supplies the repository password per operation.
	// Required.
	Credentials CredentialSource
	// Logger for operational events. Nil is replaced with a nop logger.
	Logger *zap.Logger
}

// Service runs backup operations against one repository. All invocations
// flow through the shared Runner, so concurrent Services still execute
// one restic process at a time.
type Service struct {
	runner *execute.Runner
	repo   Repository
	creds  CredentialSource
	log    *zap.Logger
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Runner == nil {
		return nil, cerr.New("restic: runner is required")
	}
	if opts.Credentials == nil {
		return nil, cerr.New("restic: credential source is required")
	}
	if opts.Repository.URL == "" {
		return nil, cerr.Newf("restic: repository %q has no URL", opts.Repository.Name)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		runner: opts.Runner,
		repo:   opts.Repository,
		creds:  opts.Credentials,
		log:    opts.Logger,
	}, nil
}

// Repository returns the repository this service operates on.
func (s *Service) Repository() Repository {
	return s.repo
}

// run fetches the password, builds the command, and executes it. The
// password string exists only for the duration of the call; the buffer
// behind it is wiped before returning.
func (s *Service) run(ctx context.Context, build func(password string) execute.Command) (execute.Result, error) {
	pw, err := s.creds.RepositoryPassword(ctx, s.repo.Name)
	if err != nil {
		return execute.Result{ExitCode: -1}, cerr.Wrap(err, "repository password")
	}
	defer pw.Wipe()

	raw := pw.Bytes()
	cmd := build(string(raw))
	securebuf.Zero(raw)

	return s.runner.Run(ctx, cmd)
}

// Init creates the repository. An already-initialized repository is not
// an error; init is safe to re-run.
func (s *Service) Init(ctx context.Context) error {
	s.log.Info("Initializing repository",
		zap.String("repository", s.repo.Name),
		zap.String("url", s.repo.URL),
	)

	_, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.InitCommand(pw)
	})
	if err != nil {
		var ee *execute.Error
		if cerr.As(err, &ee) && strings.Contains(ee.Stderr, "already initialized") {
			s.log.Info("Repository already initialized", zap.String("repository", s.repo.Name))
			return nil
		}
		return cerr.Wrap(err, "initialize repository")
	}

	s.log.Info("Repository initialized", zap.String("repository", s.repo.Name))
	return nil
}

// Backup runs the profile and returns the summary restic reported. When
// the profile carries a retention policy it is applied afterwards; a
// retention failure is logged, not returned, because the snapshot
// already exists.
func (s *Service) Backup(ctx context.Context, profile Profile) (*BackupSummary, error) {
	if len(profile.Paths) == 0 {
		return nil, cerr.Newf("profile %q has no paths", profile.Name)
	}

	s.log.Info("Starting backup",
		zap.String("profile", profile.Name),
		zap.String("repository", s.repo.Name),
		zap.Strings("paths", profile.Paths),
	)

	res, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.BackupCommand(pw, profile)
	})
	if err != nil {
		return nil, cerr.Wrap(err, "backup")
	}

	var lastProgress time.Time
	summary, problems, perr := ParseBackupOutput(res.Stdout, func(st BackupStatus) {
		if time.Since(lastProgress) < progressInterval {
			return
		}
		lastProgress = time.Now()
		s.log.Info("Backup progress",
			zap.Float64("percent", st.PercentDone*100),
			zap.Int64("files_done", st.FilesDone),
			zap.String("bytes_done", HumanBytes(st.BytesDone)),
		)
	})
	for _, p := range problems {
		s.log.Warn("Backup item error",
			zap.String("item", p.Item),
			zap.String("during", p.During),
			zap.String("error", p.Message),
		)
	}
	if perr != nil {
		return nil, perr
	}
	if summary == nil {
		return nil, cerr.New("backup produced no summary")
	}

	s.log.Info("Backup completed",
		zap.String("snapshot_id", summary.SnapshotID),
		zap.Int64("files_new", summary.FilesNew),
		zap.Int64("files_changed", summary.FilesChanged),
		zap.String("data_added", HumanBytes(summary.DataAdded)),
		zap.Duration("duration", summary.Duration()),
	)

	if profile.Retention != nil && !profile.Retention.Empty() {
		if err := s.Forget(ctx, *profile.Retention, profile.Tags, true); err != nil {
			s.log.Error("Retention policy failed", zap.String("profile", profile.Name), zap.Error(err))
		}
	}

	return summary, nil
}

// Restore restores a snapshot into target, creating the directory when
// missing.
func (s *Service) Restore(ctx context.Context, snapshotID, target string) error {
	if snapshotID == "" {
		return cerr.New("snapshot id is required")
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return cerr.Wrapf(err, "create restore target %s", target)
	}

	s.log.Info("Starting restore",
		zap.String("snapshot", snapshotID),
		zap.String("target", target),
	)

	if _, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.RestoreCommand(pw, snapshotID, target)
	}); err != nil {
		return cerr.Wrap(err, "restore")
	}

	s.log.Info("Restore completed", zap.String("snapshot", snapshotID))
	return nil
}

// Snapshots lists the repository's snapshots.
func (s *Service) Snapshots(ctx context.Context) ([]Snapshot, error) {
	res, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.SnapshotsCommand(pw)
	})
	if err != nil {
		return nil, cerr.Wrap(err, "list snapshots")
	}

	snapshots, err := ParseSnapshots(res.Stdout)
	if err != nil {
		return nil, err
	}
	s.log.Info("Listed snapshots",
		zap.String("repository", s.repo.Name),
		zap.Int("count", len(snapshots)),
	)
	return snapshots, nil
}

// Check verifies repository integrity, reading the given pack subset
// when one is passed.
func (s *Service) Check(ctx context.Context, subset string) error {
	s.log.Info("Checking repository",
		zap.String("repository", s.repo.Name),
		zap.String("read_data_subset", subset),
	)

	if _, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.CheckCommand(pw, subset)
	}); err != nil {
		return cerr.Wrap(err, "check repository")
	}

	s.log.Info("Repository check passed", zap.String("repository", s.repo.Name))
	return nil
}

// Forget applies a retention policy.
func (s *Service) Forget(ctx context.Context, ret Retention, tags []string, prune bool) error {
	if ret.Empty() {
		return cerr.New("retention policy keeps nothing")
	}

	s.log.Info("Applying retention policy",
		zap.String("repository", s.repo.Name),
		zap.Bool("prune", prune),
	)

	if _, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.ForgetCommand(pw, ret, tags, prune)
	}); err != nil {
		return cerr.Wrap(err, "apply retention")
	}
	return nil
}

// Unlock removes stale repository locks.
func (s *Service) Unlock(ctx context.Context) error {
	if _, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.UnlockCommand(pw)
	}); err != nil {
		return cerr.Wrap(err, "unlock repository")
	}
	s.log.Info("Repository unlocked", zap.String("repository", s.repo.Name))
	return nil
}

// Stats reports repository size statistics.
func (s *Service) Stats(ctx context.Context) (*RepositoryStats, error) {
	res, err := s.run(ctx, func(pw string) execute.Command {
		return s.repo.StatsCommand(pw)
	})
	if err != nil {
		return nil, cerr.Wrap(err, "repository stats")
	}
	return ParseStats(res.Stdout)
}

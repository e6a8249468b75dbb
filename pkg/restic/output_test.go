// pkg/restic/output_test.go

package restic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const snapshotListJSON = `[
  {
    "id": "40dc1520aef7d24b2e631f54a77a1bd3fc36a3a1b0f1f8a3e2a1f1c2d3e4f5a6",
    "short_id": "40dc1520",
    "time": "2026-08-20T02:00:01.123456Z",
    "tree": "90dc1520aef7d24b2e631f54a77a1bd3fc36a3a1b0f1f8a3e2a1f1c2d3e4f5a6",
    "paths": ["/etc", "/var/lib/app"],
    "hostname": "db01",
    "username": "root",
    "tags": ["system", "nightly"]
  },
  {
    "id": "551d1520aef7d24b2e631f54a77a1bd3fc36a3a1b0f1f8a3e2a1f1c2d3e4f5a7",
    "short_id": "551d1520",
    "time": "2026-08-21T02:00:02.654321Z",
    "parent": "40dc1520aef7d24b2e631f54a77a1bd3fc36a3a1b0f1f8a3e2a1f1c2d3e4f5a6",
    "tree": "91dc1520aef7d24b2e631f54a77a1bd3fc36a3a1b0f1f8a3e2a1f1c2d3e4f5a7",
    "paths": ["/etc", "/var/lib/app"],
    "hostname": "db01",
    "username": "root"
  }
]`

func TestParseSnapshots(t *testing.T) {
	snapshots, err := ParseSnapshots(snapshotListJSON)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	first := snapshots[0]
	assert.Equal(t, "40dc1520", first.ShortID)
	assert.Equal(t, "db01", first.Hostname)
	assert.Equal(t, []string{"/etc", "/var/lib/app"}, first.Paths)
	assert.Equal(t, []string{"system", "nightly"}, first.Tags)
	assert.Equal(t, 2026, first.Time.Year())

	second := snapshots[1]
	assert.Equal(t, first.ID, second.Parent)
	assert.True(t, second.Time.After(first.Time))
}

func TestParseSnapshotsRejectsMalformedOutput(t *testing.T) {
	_, err := ParseSnapshots("Fatal: wrong password or no key found")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing snapshot list")
}

const backupStreamJSON = `{"message_type":"status","percent_done":0.1,"total_files":120,"files_done":12,"total_bytes":1048576,"bytes_done":104857}
{"message_type":"status","percent_done":0.5,"total_files":120,"files_done":60,"total_bytes":1048576,"bytes_done":524288}
{"message_type":"error","item":"/var/lib/app/locked.db","during":"archival","error":"permission denied"}
{"message_type":"verbose_status","action":"new","item":"/etc/hosts"}
{"message_type":"summary","snapshot_id":"551d1520","files_new":4,"files_changed":2,"files_unmodified":114,"dirs_new":0,"dirs_changed":1,"dirs_unmodified":9,"data_added":20480,"total_files_processed":120,"total_bytes_processed":1048576,"total_duration":2.5}
`

func TestParseBackupStream(t *testing.T) {
	var statuses []BackupStatus
	summary, problems, err := ParseBackupOutput(backupStreamJSON, func(st BackupStatus) {
		statuses = append(statuses, st)
	})
	require.NoError(t, err)

	require.Len(t, statuses, 2)
	assert.InDelta(t, 0.5, statuses[1].PercentDone, 0.001)
	assert.Equal(t, int64(60), statuses[1].FilesDone)

	require.Len(t, problems, 1)
	assert.Equal(t, "/var/lib/app/locked.db", problems[0].Item)
	assert.Equal(t, "archival", problems[0].During)
	assert.Equal(t, "permission denied", problems[0].Message)

	require.NotNil(t, summary)
	assert.Equal(t, "551d1520", summary.SnapshotID)
	assert.Equal(t, int64(4), summary.FilesNew)
	assert.Equal(t, int64(20480), summary.DataAdded)
	assert.Equal(t, 2500*time.Millisecond, summary.Duration())
}

func TestParseBackupStreamWithoutSummary(t *testing.T) {
	summary, problems, err := ParseBackupOutput(
		`{"message_type":"status","percent_done":1}`, nil)
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Empty(t, problems)
}

func TestParseBackupStreamStopsOnMalformedDocument(t *testing.T) {
	out := `{"message_type":"summary","snapshot_id":"abc"}
{truncated`
	summary, _, err := ParseBackupOutput(out, nil)
	require.Error(t, err)
	// Documents before the breakage are still returned.
	require.NotNil(t, summary)
	assert.Equal(t, "abc", summary.SnapshotID)
}

func TestParseStats(t *testing.T) {
	stats, err := ParseStats(`{"total_size":73400320,"total_file_count":1204,"snapshots_count":2}`)
	require.NoError(t, err)
	assert.Equal(t, int64(73400320), stats.TotalSize)
	assert.Equal(t, int64(1204), stats.TotalFileCount)
	assert.Equal(t, int64(2), stats.SnapshotCount)
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{int64(3.5 * 1024 * 1024 * 1024), "3.5 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanBytes(tt.in))
	}
}

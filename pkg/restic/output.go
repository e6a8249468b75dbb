// pkg/restic/output.go

package restic

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	cerr "github.com/cockroachdb/errors"
)

// Snapshot is one entry of `restic snapshots --json`.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Parent   string    `json:"parent,omitempty"`
	Tree     string    `json:"tree"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
}

// ParseSnapshots decodes the output of the snapshots command.
func ParseSnapshots(out string) ([]Snapshot, error) {
	var snapshots []Snapshot
	if err := json.Unmarshal([]byte(out), &snapshots); err != nil {
		return nil, cerr.Wrap(err, "parsing snapshot list")
	}
	return snapshots, nil
}

// RepositoryStats is the output of `restic stats --json`.
type RepositoryStats struct {
	TotalSize      int64 `json:"total_size"`
	TotalFileCount int64 `json:"total_file_count"`
	SnapshotCount  int64 `json:"snapshots_count"`
}

// ParseStats decodes the output of the stats command.
func ParseStats(out string) (*RepositoryStats, error) {
	var stats RepositoryStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		return nil, cerr.Wrap(err, "parsing repository stats")
	}
	return &stats, nil
}

// BackupStatus is a progress message from the backup JSON stream.
type BackupStatus struct {
	PercentDone float64 `json:"percent_done"`
	TotalFiles  int64   `json:"total_files"`
	FilesDone   int64   `json:"files_done"`
	TotalBytes  int64   `json:"total_bytes"`
	BytesDone   int64   `json:"bytes_done"`
}

// BackupSummary is the terminal message of a successful backup.
type BackupSummary struct {
	SnapshotID          string  `json:"snapshot_id"`
	FilesNew            int64   `json:"files_new"`
	FilesChanged        int64   `json:"files_changed"`
	FilesUnmodified     int64   `json:"files_unmodified"`
	DirsNew             int64   `json:"dirs_new"`
	DirsChanged         int64   `json:"dirs_changed"`
	DirsUnmodified      int64   `json:"dirs_unmodified"`
	DataAdded           int64   `json:"data_added"`
	TotalFilesProcessed int64   `json:"total_files_processed"`
	TotalBytesProcessed int64   `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
}

// Duration converts the summary's fractional seconds.
func (s *BackupSummary) Duration() time.Duration {
	return time.Duration(s.TotalDuration * float64(time.Second))
}

// BackupProblem is a per-item error restic reported while still
// completing the run.
type BackupProblem struct {
	Item    string `json:"item"`
	During  string `json:"during"`
	Message string `json:"error"`
}

// ParseBackupStream walks the newline-delimited JSON documents a backup
// run emits. Status messages go to onStatus (nil to ignore); item errors
// are collected; the summary, when present, is returned. Documents of
// unknown type are skipped so newer restic versions stay parseable.
func ParseBackupStream(r io.Reader, onStatus func(BackupStatus)) (*BackupSummary, []BackupProblem, error) {
	dec := json.NewDecoder(r)

	var summary *BackupSummary
	var problems []BackupProblem

	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if cerr.Is(err, io.EOF) {
				break
			}
			return summary, problems, cerr.Wrap(err, "parsing backup stream")
		}

		var head struct {
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}

		switch head.MessageType {
		case "status":
			if onStatus == nil {
				continue
			}
			var status BackupStatus
			if err := json.Unmarshal(raw, &status); err == nil {
				onStatus(status)
			}
		case "summary":
			var s BackupSummary
			if err := json.Unmarshal(raw, &s); err != nil {
				return summary, problems, cerr.Wrap(err, "parsing backup summary")
			}
			summary = &s
		case "error":
			var p BackupProblem
			if err := json.Unmarshal(raw, &p); err == nil {
				problems = append(problems, p)
			}
		}
	}

	return summary, problems, nil
}

// ParseBackupOutput is ParseBackupStream over captured stdout.
func ParseBackupOutput(out string, onStatus func(BackupStatus)) (*BackupSummary, []BackupProblem, error) {
	return ParseBackupStream(strings.NewReader(out), onStatus)
}

// HumanBytes renders a byte count for log and table output.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

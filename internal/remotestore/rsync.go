package remotestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

const (
	rsyncSSHArgs    = "-ahce ssh"
	rsyncDaemonArgs = "-ahc"
	defaultRetries  = 3
)

// RsyncConfig carries the transport mode and remote identity rsync needs.
// SSHMode selects ssh transport versus an rsync-daemon endpoint derived
// from the host string by substituting the first ':' with "/rsyncd".
type RsyncConfig struct {
	SSHMode bool
	Host    string // user@host for ssh mode, or the bare host for daemon mode
}

// TransferStats is the parsed subset of rsync's --stats block: number of
// files, created, deleted, transferred, rate, speedup.
type TransferStats struct {
	NumberOfFiles int
	Created       int
	Deleted       int
	Transferred   int
	Rate          string
	Speedup       string
}

var statsPatterns = map[string]*regexp.Regexp{
	"files":       regexp.MustCompile(`(?i)number of files:\s*([\d,]+)`),
	"created":     regexp.MustCompile(`(?i)number of created files:\s*([\d,]+)`),
	"deleted":     regexp.MustCompile(`(?i)number of deleted files:\s*([\d,]+)`),
	"transferred": regexp.MustCompile(`(?i)number of regular files transferred:\s*([\d,]+)`),
	"rate":        regexp.MustCompile(`(?i)literal data:.*\(([\d.]+\s*\w+/s)\)`),
	"speedup":     regexp.MustCompile(`(?i)speedup is\s*([\d.]+)`),
}

func parseStats(output string) TransferStats {
	var s TransferStats
	if m := statsPatterns["files"].FindStringSubmatch(output); m != nil {
		s.NumberOfFiles = parseCount(m[1])
	}
	if m := statsPatterns["created"].FindStringSubmatch(output); m != nil {
		s.Created = parseCount(m[1])
	}
	if m := statsPatterns["deleted"].FindStringSubmatch(output); m != nil {
		s.Deleted = parseCount(m[1])
	}
	if m := statsPatterns["transferred"].FindStringSubmatch(output); m != nil {
		s.Transferred = parseCount(m[1])
	}
	if m := statsPatterns["rate"].FindStringSubmatch(output); m != nil {
		s.Rate = strings.TrimSpace(m[1])
	}
	if m := statsPatterns["speedup"].FindStringSubmatch(output); m != nil {
		s.Speedup = strings.TrimSpace(m[1])
	}
	return s
}

func parseCount(s string) int {
	n, _ := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	return n
}

func (c RsyncConfig) args() []string {
	if c.SSHMode {
		return strings.Fields(rsyncSSHArgs)
	}
	return strings.Fields(rsyncDaemonArgs)
}

// remotePath rewrites host:path to host/rsyncd/path when not in SSH mode.
func (c RsyncConfig) remotePath(path string) string {
	if c.SSHMode {
		return fmt.Sprintf("%s:%s", c.Host, path)
	}
	return strings.Replace(fmt.Sprintf("%s:%s", c.Host, path), ":", "/rsyncd", 1)
}

func localFileCount(root string) (int, error) {
	count := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}

// Put transfers local to the remote path under s.rcfg's transport, retrying
// up to retries times whenever the parsed transferred count does not match
// the local file count.
func (s *Store) Put(ctx context.Context, local, remotePath string, retries int) (TransferStats, error) {
	if retries <= 0 {
		retries = defaultRetries
	}
	wantCount, err := localFileCount(local)
	if err != nil {
		return TransferStats{}, bur.Wrap(bur.KindTransfer, fmt.Sprintf("stat local %s", local), err)
	}

	var lastStats TransferStats
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		args := append(append([]string{}, s.rcfg.args()...), "--stats", local, s.rcfg.remotePath(remotePath))
		res, runErr := sshexec.Run(ctx, 0, "rsync", args...)
		if runErr != nil {
			lastErr = runErr
			continue
		}
		stats := parseStats(res.Stdout)
		lastStats = stats
		if stats.Transferred == wantCount {
			return stats, nil
		}
		lastErr = bur.New(bur.KindTransfer, fmt.Sprintf(
			"transferred %d of %d files (attempt %d/%d)", stats.Transferred, wantCount, attempt, retries))
	}
	return lastStats, bur.Wrap(bur.KindTransfer, fmt.Sprintf(
		"put %s -> %s: exceeded %d retries, want %d files got %d", local, remotePath, retries, wantCount, lastStats.Transferred), lastErr)
}

// Get transfers the remote path to local, with the same retry rule as Put
// but checked against the destination file count after transfer.
func (s *Store) Get(ctx context.Context, remotePath, local string, retries int) (TransferStats, error) {
	if retries <= 0 {
		retries = defaultRetries
	}

	var lastStats TransferStats
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		args := append(append([]string{}, s.rcfg.args()...), "--stats", s.rcfg.remotePath(remotePath), local)
		res, runErr := sshexec.Run(ctx, 0, "rsync", args...)
		if runErr != nil {
			lastErr = runErr
			continue
		}
		stats := parseStats(res.Stdout)
		lastStats = stats

		gotCount, statErr := localFileCount(local)
		if statErr != nil {
			lastErr = bur.Wrap(bur.KindTransfer, fmt.Sprintf("stat local %s", local), statErr)
			continue
		}
		if stats.Transferred == gotCount {
			return stats, nil
		}
		lastErr = bur.New(bur.KindTransfer, fmt.Sprintf(
			"transferred %d, destination has %d files (attempt %d/%d)", stats.Transferred, gotCount, attempt, retries))
	}
	return lastStats, bur.Wrap(bur.KindTransfer, fmt.Sprintf(
		"get %s -> %s: exceeded %d retries", remotePath, local, retries), lastErr)
}

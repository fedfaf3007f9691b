// Package remotestore is the SSH/rsync-backed remote filesystem view the
// engines operate against: existence checks, directory listing, removal,
// sizing, and the two bulk-transfer operations. Non-transfer operations run
// over a native SSH session (internal/sshexec.Client); Put/Get shell out to
// the rsync binary because its --stats contract has no Go-native
// equivalent in the retrieval pack.
package remotestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/sshexec"
)

// Store is the RemoteStore collaborator. It owns no local state; every
// call is a fresh round trip, so concurrent calls to disjoint paths are
// always safe.
type Store struct {
	ssh  *sshexec.Client
	rcfg RsyncConfig
}

func New(ssh *sshexec.Client, rcfg RsyncConfig) *Store {
	return &Store{ssh: ssh, rcfg: rcfg}
}

// PathExists runs `test -d <path> || test -f <path>` remotely.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	res, err := s.ssh.Run(ctx, fmt.Sprintf("test -d %s || test -f %s", shQuote(path), shQuote(path)))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// MkdirP idempotently creates path, then re-checks existence; it returns
// false only if the final existence test fails.
func (s *Store) MkdirP(ctx context.Context, path string) (bool, error) {
	if _, err := s.ssh.Run(ctx, fmt.Sprintf("mkdir -p %s", shQuote(path))); err != nil {
		return false, err
	}
	return s.PathExists(ctx, path)
}

// Remove removes each of paths, then re-tests existence to classify which
// actually disappeared.
func (s *Store) Remove(ctx context.Context, paths []string) (notRemoved, removed []string, err error) {
	for _, p := range paths {
		if _, rmErr := s.ssh.Run(ctx, fmt.Sprintf("rm -rf %s", shQuote(p))); rmErr != nil {
			return nil, nil, rmErr
		}
		exists, existsErr := s.PathExists(ctx, p)
		if existsErr != nil {
			return nil, nil, existsErr
		}
		if exists {
			notRemoved = append(notRemoved, p)
		} else {
			removed = append(removed, p)
		}
	}
	return notRemoved, removed, nil
}

// List runs `find path -name glob` and returns basenames.
func (s *Store) List(ctx context.Context, path, glob string) ([]string, error) {
	res, err := s.ssh.Run(ctx, fmt.Sprintf("find %s -name %s", shQuote(path), shQuote(glob)))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		names = append(names, baseName(line))
	}
	return names, nil
}

// CountContent returns (file_count, dir_count) under path.
func (s *Store) CountContent(ctx context.Context, path string) (files, dirs int, err error) {
	fres, err := s.ssh.Run(ctx, fmt.Sprintf("find %s -type f | wc -l", shQuote(path)))
	if err != nil {
		return 0, 0, err
	}
	dres, err := s.ssh.Run(ctx, fmt.Sprintf("find %s -type d | wc -l", shQuote(path)))
	if err != nil {
		return 0, 0, err
	}
	files, _ = strconv.Atoi(strings.TrimSpace(fres.Stdout))
	dirsAll, _ := strconv.Atoi(strings.TrimSpace(dres.Stdout))
	// find counts path itself as a directory; exclude it to report only
	// children.
	if dirsAll > 0 {
		dirs = dirsAll - 1
	}
	return files, dirs, nil
}

// SizeMB runs `du -bms path` and returns the size in megabytes.
func (s *Store) SizeMB(ctx context.Context, path string) (int64, error) {
	res, err := s.ssh.Run(ctx, fmt.Sprintf("du -bms %s", shQuote(path)))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return 0, bur.New(bur.KindSSH, fmt.Sprintf("du produced no output for %s", path))
	}
	return strconv.ParseInt(fields[0], 10, 64)
}

type mtimeEntry struct {
	path  string
	mtime string
}

// SortByOldestEntry returns paths ordered by the newest "oldest file inside
// the directory" first — i.e. directories whose single oldest file is most
// recent come first. Paths whose directory yields no entries (empty
// directories) are dropped from the result.
func (s *Store) SortByOldestEntry(ctx context.Context, paths []string) ([]string, error) {
	var entries []mtimeEntry
	for _, p := range paths {
		res, err := s.ssh.Run(ctx, fmt.Sprintf(
			`find %s -type f -printf "%%T+\t%%p\n" | sort | head -1`, shQuote(p)))
		if err != nil {
			return nil, err
		}
		line := strings.TrimSpace(res.Stdout)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		entries = append(entries, mtimeEntry{path: p, mtime: parts[0]})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mtime > entries[j].mtime
	})

	result := make([]string, len(entries))
	for i, e := range entries {
		result[i] = e.path
	}
	return result, nil
}

func baseName(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

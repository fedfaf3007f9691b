package remotestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
)

// Index is an ephemeral customer -> ordered-list-of-remote-backup-paths
// view built on demand from Store, shared by the download engine (tag
// resolution) and the retention engine (stale-backup selection).
type Index struct {
	store *Store
}

func NewIndex(store *Store) *Index {
	return &Index{store: store}
}

// ListBackups returns every backup-tag directory under
// <fullRoot>/<customer>, newest-first by directory mtime.
func (idx *Index) ListBackups(ctx context.Context, fullRoot, customer string) ([]string, error) {
	customerRoot := fullRoot + "/" + customer
	res, err := idx.store.ssh.Run(ctx, fmt.Sprintf(
		`find %s -mindepth 1 -maxdepth 1 -type d -printf "%%T@ %%p\n" | sort -rn`, shQuote(customerRoot)))
	if err != nil {
		return nil, err
	}

	type entry struct {
		mtime float64
		path  string
	}
	var entries []entry
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		mtime, _ := strconv.ParseFloat(parts[0], 64)
		entries = append(entries, entry{mtime: mtime, path: parts[1]})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].mtime > entries[j].mtime })

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths, nil
}

// Bound fixes Index to a single remote full root, satisfying both
// downloadengine.RemoteIndex and retention.BackupLister without either
// package needing to know about full-root/folder plumbing.
type Bound struct {
	idx      *Index
	fullRoot string
}

// Bind returns a Bound index scoped to fullRoot (offsite.FullRoot()).
func (idx *Index) Bind(fullRoot string) *Bound {
	return &Bound{idx: idx, fullRoot: fullRoot}
}

// ResolveTag satisfies downloadengine.RemoteIndex.
func (b *Bound) ResolveTag(ctx context.Context, customer, tag string) (string, error) {
	return b.idx.ResolveTag(ctx, b.fullRoot, customer, tag)
}

// ListBackups satisfies retention.BackupLister.
func (b *Bound) ListBackups(ctx context.Context, customer string) ([]string, error) {
	return b.idx.ListBackups(ctx, b.fullRoot, customer)
}

// ResolveTag finds the remote backup path for customer/tag by listing the
// customer's backup directories and matching the basename, satisfying
// downloadengine.RemoteIndex. Returns "" with no error if no match exists.
func (idx *Index) ResolveTag(ctx context.Context, fullRoot, customer, tag string) (string, error) {
	paths, err := idx.ListBackups(ctx, fullRoot, customer)
	if err != nil {
		return "", bur.Wrap(bur.KindSSH, fmt.Sprintf("list backups for %s", customer), err)
	}
	for _, p := range paths {
		if baseName(p) == tag {
			return p, nil
		}
	}
	return "", nil
}

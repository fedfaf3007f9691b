// Package retention selects and deletes the oldest remote backups beyond
// a customer's configured retention count. Empty remote directories are
// never counted against the limit.
package retention

import (
	"context"
	"fmt"

	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
)

// RemoteStore is the subset of remotestore.Store the retention engine
// drives.
type RemoteStore interface {
	CountContent(ctx context.Context, path string) (files, dirs int, err error)
	SortByOldestEntry(ctx context.Context, paths []string) ([]string, error)
	Remove(ctx context.Context, paths []string) (notRemoved, removed []string, err error)
}

// BackupLister lists the candidate remote backup paths for a customer,
// satisfied by remotestore.Index.ListBackups bound to a full root.
type BackupLister interface {
	ListBackups(ctx context.Context, customer string) ([]string, error)
}

// Outcome is the per-customer retention result.
type Outcome struct {
	Customer    string
	Removed     []string
	NotRemoved  []string
	Failed      bool
}

// Engine drives Run for one customer.
type Engine struct {
	Store   RemoteStore
	Lister  BackupLister
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func New(store RemoteStore, lister BackupLister, logger *observability.Logger) *Engine {
	return &Engine{Store: store, Lister: lister, Logger: logger, Metrics: observability.NewMetrics()}
}

// Run builds the customer's remote backup list, filters out empty
// directories, and deletes the oldest ones beyond retentionCount as
// ordered by SortByOldestEntry.
func (e *Engine) Run(ctx context.Context, customer string, retentionCount int) (*Outcome, error) {
	outcome := &Outcome{Customer: customer}

	candidates, err := e.Lister.ListBackups(ctx, customer)
	if err != nil {
		return outcome, bur.Wrap(bur.KindSSH, fmt.Sprintf("list remote backups for %s", customer), err)
	}

	var nonEmpty []string
	for _, p := range candidates {
		files, dirs, err := e.Store.CountContent(ctx, p)
		if err != nil {
			return outcome, err
		}
		if files == 0 && dirs == 0 {
			e.Logger.Sugar().Infow("skipping empty remote backup directory in retention", "customer", customer, "path", p)
			continue
		}
		nonEmpty = append(nonEmpty, p)
	}

	if len(nonEmpty) <= retentionCount {
		return outcome, nil
	}

	sorted, err := e.Store.SortByOldestEntry(ctx, nonEmpty)
	if err != nil {
		return outcome, err
	}
	if len(sorted) <= retentionCount {
		return outcome, nil
	}

	toRemove := sorted[retentionCount:]
	notRemoved, removed, err := e.Store.Remove(ctx, toRemove)
	if err != nil {
		return outcome, err
	}
	outcome.Removed = removed
	outcome.NotRemoved = notRemoved
	for range removed {
		e.Metrics.RecordRetentionDeletion(customer, true)
	}
	for range notRemoved {
		e.Metrics.RecordRetentionDeletion(customer, false)
	}
	if len(notRemoved) > 0 {
		outcome.Failed = true
		return outcome, bur.New(bur.KindRetentionRemovalFailed,
			fmt.Sprintf("customer %s: failed to remove %v", customer, notRemoved))
	}
	return outcome, nil
}

// Package uploadengine implements the per-backup upload state machine:
// resume detection, a process pool of volume encodes, a transfer pool of
// RemoteStore.Put calls, metadata files, and descriptors.
package uploadengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ericsson-bur/offsite-backup/internal/backupset"
	"github.com/ericsson-bur/offsite-backup/internal/bur"
	"github.com/ericsson-bur/offsite-backup/internal/config"
	"github.com/ericsson-bur/offsite-backup/internal/cryptocodec"
	"github.com/ericsson-bur/offsite-backup/internal/descriptor"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
	"github.com/ericsson-bur/offsite-backup/internal/remotestore"
	"github.com/ericsson-bur/offsite-backup/internal/validator"
	"github.com/ericsson-bur/offsite-backup/internal/volumeprocessor"
	"github.com/ericsson-bur/offsite-backup/internal/workerpool"
)

// RemoteStore is the subset of remotestore.Store the upload engine drives.
// Accepting the interface (rather than the concrete type) lets tests
// substitute an in-memory fake for the real SSH/rsync-backed store.
type RemoteStore interface {
	PathExists(ctx context.Context, path string) (bool, error)
	MkdirP(ctx context.Context, path string) (bool, error)
	Put(ctx context.Context, local, remotePath string, retries int) (remotestore.TransferStats, error)
}

// BackupOutcome is the per-backup result UploadEngine returns: which
// volumes and top-level files were transferred in this run and the
// aggregated failure, if any.
type BackupOutcome struct {
	Customer         string
	Tag              string
	TransferredFiles []string
	Failed           bool
	FailureMessage   string
}

// Engine drives ProcessBackup for one customer's backups.
type Engine struct {
	Store   RemoteStore
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func New(store RemoteStore, logger *observability.Logger) *Engine {
	return &Engine{Store: store, Logger: logger, Metrics: observability.NewMetrics()}
}

// ProcessBackup drives one backup directory through prepare, partition,
// encode, transfer, metadata, and descriptor stages.
func (e *Engine) ProcessBackup(ctx context.Context, rc config.RunContext, bs *backupset.BackupSet) (*BackupOutcome, error) {
	outcome := &BackupOutcome{Customer: rc.Customer.Name, Tag: bs.Tag}
	remoteBackupPath := filepath.Join(rc.Offsite.FullRoot(), rc.Customer.Name, bs.Tag)
	tmpBackupPath := filepath.Join(rc.TempRoot, rc.Customer.Name, bs.Tag)

	// 1. Prepare
	if _, err := e.Store.MkdirP(ctx, remoteBackupPath); err != nil {
		return outcome, bur.Wrap(bur.KindSSH, "ensure remote backup path", err)
	}
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		return outcome, bur.Wrap(bur.KindDiskSpace, "ensure local tmp path", err)
	}
	sourceSize, err := validator.DirSizeBytes(bs.Path)
	if err != nil {
		return outcome, err
	}
	if err := validator.CheckDiskSpace(tmpBackupPath, sourceSize); err != nil {
		return outcome, err
	}

	// 2. Partition
	if len(bs.Volumes) == 0 || len(bs.TopFiles) == 0 {
		return outcome, bur.New(bur.KindConfig, fmt.Sprintf("backup %s/%s has no volumes or no top-level files", rc.Customer.Name, bs.Tag))
	}

	pending, preTransferred, err := e.partition(ctx, rc, bs, remoteBackupPath, tmpBackupPath)
	if err != nil {
		return outcome, err
	}

	codec := cryptocodec.New(cryptocodec.Identity{Name: rc.Customer.Name, Email: rc.GPGEmail, GPGHome: rc.GPGHome})
	proc := volumeprocessor.New(codec, rc.ThreadPool)

	var mu sync.Mutex
	outcomes := make(map[string]*volumeprocessor.VolumeOutcome)
	transferPool := workerpool.New(ctx, rc.TransferPool)

	// The transfer pool updates the same VolumeOutcome record the encode pool
	// produced: transfer time and stats on success, the failure reason
	// otherwise.
	submitTransfer := func(tarPath, volumeName string) {
		_ = transferPool.Submit(func(ctx context.Context) error {
			remotePath := filepath.Join(remoteBackupPath, volumeName+".tar")
			start := time.Now()
			stats, putErr := e.Store.Put(ctx, tarPath, remotePath, 3)
			elapsed := time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			o := outcomes[volumeName]
			if o == nil {
				o = &volumeprocessor.VolumeOutcome{VolumePath: tarPath, Status: true}
				outcomes[volumeName] = o
			}
			o.TransferTime = elapsed
			if putErr != nil {
				o.Status = false
				o.Output = putErr.Error()
				e.Metrics.RecordStage("transfer", false, elapsed.Seconds())
				return nil
			}
			o.TransferStats = stats
			e.Metrics.RecordStage("transfer", true, elapsed.Seconds())
			_ = os.Remove(tarPath)
			outcome.TransferredFiles = append(outcome.TransferredFiles, volumeName)
			return nil
		})
	}

	// already-processed volumes: transfer directly, no re-encode
	for _, v := range preTransferred {
		submitTransfer(v.tarPath, v.name)
	}

	// 3/4. Encode pending volumes in a process pool; transfer each on success
	processPool := workerpool.New(ctx, rc.ProcessPool)
	for _, v := range pending {
		v := v
		_ = processPool.Submit(func(ctx context.Context) error {
			tmpVolDir := filepath.Join(tmpBackupPath, v.name)
			result := proc.Encode(ctx, v.path, tmpVolDir)
			mu.Lock()
			outcomes[v.name] = &result
			mu.Unlock()
			e.Metrics.RecordVolume("upload", result.Status)
			e.Metrics.RecordStage("processing", result.Status, result.ProcessingTime.Seconds())
			e.Metrics.RecordStage("archive", result.Status, result.ArchiveTime.Seconds())
			if result.Status {
				submitTransfer(result.VolumePath, v.name)
			}
			return nil
		})
	}

	// 5. Join encode then transfer
	_ = processPool.Join()
	_ = transferPool.Join()

	// 6. Check outcomes
	var failMsgs []string
	for _, o := range outcomes {
		if !o.Status {
			failMsgs = append(failMsgs, o.Output)
		}
	}
	if len(failMsgs) > 0 {
		outcome.Failed = true
		outcome.FailureMessage = strings.Join(failMsgs, "; ")
		return outcome, bur.New(bur.KindEncode, outcome.FailureMessage)
	}

	// 7. Metadata files
	if err := e.transferMetadataFiles(ctx, rc, bs, remoteBackupPath, tmpBackupPath, codec, outcome); err != nil {
		outcome.Failed = true
		outcome.FailureMessage = err.Error()
		return outcome, err
	}

	// 8. Descriptors
	if err := e.writeDescriptorsIfAbsent(ctx, rc, bs, remoteBackupPath, tmpBackupPath); err != nil {
		outcome.Failed = true
		outcome.FailureMessage = err.Error()
		return outcome, err
	}

	// 9. Cleanup tmp (logged, not fatal — Open Question a)
	if err := os.RemoveAll(tmpBackupPath); err != nil {
		e.Logger.Sugar().Warnw("failed to remove on-site tmp directory after successful upload",
			"customer", rc.Customer.Name, "tag", bs.Tag, "path", tmpBackupPath, "error", err)
	}

	return outcome, nil
}

type volumeRef struct {
	name    string
	path    string
	tarPath string
}

// partition classifies each local volume as transferred, processed,
// unfinished, or pending.
func (e *Engine) partition(ctx context.Context, rc config.RunContext, bs *backupset.BackupSet, remoteBackupPath, tmpBackupPath string) (pending, preTransferred []volumeRef, err error) {
	for _, name := range bs.Volumes {
		remoteTar := filepath.Join(remoteBackupPath, name+".tar")
		exists, existsErr := e.Store.PathExists(ctx, remoteTar)
		if existsErr != nil {
			return nil, nil, existsErr
		}
		if exists {
			continue // transferred: skip entirely
		}

		localTar := filepath.Join(tmpBackupPath, name+".tar")
		if _, statErr := os.Stat(localTar); statErr == nil {
			preTransferred = append(preTransferred, volumeRef{name: name, path: filepath.Join(bs.Path, name), tarPath: localTar})
			continue
		}

		localVolDir := filepath.Join(tmpBackupPath, name)
		if _, statErr := os.Stat(localVolDir); statErr == nil {
			// unfinished: remove the partial directory and fall through to pending
			if rmErr := os.RemoveAll(localVolDir); rmErr != nil {
				return nil, nil, bur.Wrap(bur.KindEncode, fmt.Sprintf("remove unfinished volume dir %s", localVolDir), rmErr)
			}
		}

		pending = append(pending, volumeRef{name: name, path: filepath.Join(bs.Path, name)})
	}
	return pending, preTransferred, nil
}

// transferMetadataFiles sends the backup's top-level files, BACKUP_OK last.
func (e *Engine) transferMetadataFiles(ctx context.Context, rc config.RunContext, bs *backupset.BackupSet, remoteBackupPath, tmpBackupPath string, codec *cryptocodec.Codec, outcome *BackupOutcome) error {
	for _, f := range bs.TopFiles {
		remotePath := filepath.Join(remoteBackupPath, transferredName(f))
		exists, err := e.Store.PathExists(ctx, remotePath)
		if err != nil {
			return err
		}
		if exists {
			e.Logger.Sugar().Warnw("metadata file already exists on remote, skipping", "file", f)
			continue
		}

		switch f {
		case config.SuccessFlagFile:
			// deferred: BACKUP_OK is sent after this loop, once every volume
			// and every other top-level file has been transferred.
			continue
		case config.BackupMetaFile:
			srcPath := filepath.Join(bs.Path, f)
			encPath, err := codec.EncryptOne(ctx, srcPath, tmpBackupPath)
			if err != nil {
				return bur.Wrap(bur.KindEncode, "encrypt backup.metadata", err)
			}
			tarPath := encPath + ".tar"
			if err := archive(ctx, encPath, tarPath); err != nil {
				return err
			}
			_ = os.Remove(encPath)
			remoteTar := filepath.Join(remoteBackupPath, f+".gz.tar")
			if _, err := e.Store.Put(ctx, tarPath, remoteTar, 3); err != nil {
				return bur.Wrap(bur.KindTransfer, "transfer backup.metadata", err)
			}
			_ = os.Remove(tarPath)
			outcome.TransferredFiles = append(outcome.TransferredFiles, f+".gz.tar")
		default:
			e.Logger.Sugar().Infow("ignoring unexpected top-level file", "file", f)
		}
	}

	// BACKUP_OK last, after every volume and every other metadata file.
	if bs.HasFlag {
		remoteFlag := filepath.Join(remoteBackupPath, config.SuccessFlagFile)
		exists, err := e.Store.PathExists(ctx, remoteFlag)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if _, err := e.Store.Put(ctx, filepath.Join(bs.Path, config.SuccessFlagFile), remoteFlag, 3); err != nil {
			return bur.Wrap(bur.KindTransfer, "transfer BACKUP_OK", err)
		}
		outcome.TransferredFiles = append(outcome.TransferredFiles, config.SuccessFlagFile)
	}
	return nil
}

func transferredName(f string) string {
	if f == config.BackupMetaFile {
		return f + ".gz.tar"
	}
	return f
}

func (e *Engine) writeDescriptorsIfAbsent(ctx context.Context, rc config.RunContext, bs *backupset.BackupSet, remoteBackupPath, tmpBackupPath string) error {
	put := func(ctx context.Context, local, remotePath string) error {
		_, err := e.Store.Put(ctx, local, remotePath, 3)
		return err
	}

	volDescPath := filepath.Join(remoteBackupPath, config.VolumeListDescriptorName)
	if exists, err := e.Store.PathExists(ctx, volDescPath); err != nil {
		return err
	} else if !exists {
		if err := descriptor.Write(ctx, put, tmpBackupPath, remoteBackupPath, config.VolumeListDescriptorName, bs.Volumes); err != nil {
			return err
		}
	}

	fileDescPath := filepath.Join(remoteBackupPath, config.FileListDescriptorName)
	if exists, err := e.Store.PathExists(ctx, fileDescPath); err != nil {
		return err
	} else if !exists {
		if err := descriptor.Write(ctx, put, tmpBackupPath, remoteBackupPath, config.FileListDescriptorName, fileListNames(bs)); err != nil {
			return err
		}
	}
	return nil
}

// fileListNames maps the backup's top-level files to the names they carry on
// the remote: BACKUP_OK as-is, backup.metadata in its encrypted archived
// form. Unexpected files are never transferred, so they never appear in the
// descriptor either.
func fileListNames(bs *backupset.BackupSet) []string {
	var names []string
	for _, f := range bs.TopFiles {
		switch f {
		case config.SuccessFlagFile, config.BackupMetaFile:
			names = append(names, transferredName(f))
		}
	}
	return names
}

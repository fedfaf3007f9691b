// Package downloadengine implements the per-backup download state
// machine: resolve the remote backup by tag, guard on BACKUP_OK,
// partition local volumes into done/ready-to-decode/missing, drive a
// transfer pool feeding a decode pool, and validate the reconstructed
// backup.
package downloadengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

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

// RemoteStore is the subset of remotestore.Store the download engine
// drives. Mirrors uploadengine.RemoteStore's "accept interfaces" shape so
// tests can substitute an in-memory fake.
type RemoteStore interface {
	PathExists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, path, glob string) ([]string, error)
	Get(ctx context.Context, remotePath, local string, retries int) (remotestore.TransferStats, error)
	SizeMB(ctx context.Context, path string) (int64, error)
}

// RemoteIndex resolves a backup tag to its remote backup directory for a
// customer.
type RemoteIndex interface {
	ResolveTag(ctx context.Context, customer, tag string) (string, error)
}

// BackupOutcome is the per-backup result DownloadEngine returns.
type BackupOutcome struct {
	Customer          string
	Tag               string
	DestinationPath   string
	DownloadedVolumes []string
	Failed            bool
	FailureMessage    string
}

// Engine drives DownloadBackup for one customer's backups.
type Engine struct {
	Store   RemoteStore
	Index   RemoteIndex
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func New(store RemoteStore, index RemoteIndex, logger *observability.Logger) *Engine {
	return &Engine{Store: store, Index: index, Logger: logger, Metrics: observability.NewMetrics()}
}

// DownloadBackup drives one backup tag through resolve, prepare, guard,
// partition, transfer, decode, metadata, and verify stages.
func (e *Engine) DownloadBackup(ctx context.Context, rc config.RunContext, tag, destinationRoot string) (*BackupOutcome, error) {
	outcome := &BackupOutcome{Customer: rc.Customer.Name, Tag: tag}

	// 1. Resolve
	remoteBackupPath, err := e.Index.ResolveTag(ctx, rc.Customer.Name, tag)
	if err != nil {
		return outcome, err
	}
	if remoteBackupPath == "" {
		return outcome, bur.New(bur.KindUnknownBackupTag, fmt.Sprintf("%s/%s not found on remote", rc.Customer.Name, tag))
	}

	// 2. Prepare
	destPath := filepath.Join(destinationRoot, rc.Customer.Name, tag)
	outcome.DestinationPath = destPath
	if err := os.MkdirAll(destPath, 0o700); err != nil {
		return outcome, bur.Wrap(bur.KindDiskSpace, "ensure local destination path", err)
	}
	remoteSizeMB, err := e.Store.SizeMB(ctx, remoteBackupPath)
	if err != nil {
		return outcome, err
	}
	if err := validator.CheckDiskSpace(destPath, remoteSizeMB*1024*1024); err != nil {
		return outcome, err
	}

	// 3. Guard
	okExists, err := e.Store.PathExists(ctx, filepath.Join(remoteBackupPath, config.SuccessFlagFile))
	if err != nil {
		return outcome, err
	}
	if !okExists {
		return outcome, bur.New(bur.KindMissingSuccessFlag, fmt.Sprintf("%s/%s has no BACKUP_OK remotely", rc.Customer.Name, tag))
	}

	// 4. Partition
	volumes, err := e.fetchVolumeList(ctx, rc, remoteBackupPath, destPath)
	if err != nil {
		return outcome, err
	}
	if len(volumes) == 0 {
		return outcome, bur.New(bur.KindNoVolumeList, fmt.Sprintf("%s/%s has an empty volume-list descriptor", rc.Customer.Name, tag))
	}

	codec := cryptocodec.New(cryptocodec.Identity{Name: rc.Customer.Name, Email: rc.GPGEmail, GPGHome: rc.GPGHome})
	proc := volumeprocessor.New(codec, rc.ThreadPool)

	var mu sync.Mutex
	var outcomes []volumeprocessor.VolumeOutcome
	decodePool := workerpool.New(ctx, rc.ProcessPool)

	submitDecode := func(tarPath, volumeName string) {
		_ = decodePool.Submit(func(ctx context.Context) error {
			result := proc.Decode(ctx, tarPath)
			e.Metrics.RecordVolume("download", result.Status)
			e.Metrics.RecordStage("processing", result.Status, result.ProcessingTime.Seconds())
			mu.Lock()
			outcomes = append(outcomes, result)
			if result.Status {
				outcome.DownloadedVolumes = append(outcome.DownloadedVolumes, volumeName)
			}
			mu.Unlock()
			if result.Status {
				// Decode leaves the archive in place; the engine owns its
				// removal once the volume directory is reconstructed.
				_ = os.Remove(tarPath)
			}
			return nil
		})
	}

	missing, ready := e.classifyVolumes(destPath, volumes, rc.IsGenieCustomer)
	for _, v := range ready {
		submitDecode(v.tarPath, v.name)
	}

	// 5. Transfer pool feeds the decode pool
	transferPool := workerpool.New(ctx, rc.TransferPool)
	for _, v := range missing {
		v := v
		_ = transferPool.Submit(func(ctx context.Context) error {
			tarPath := filepath.Join(destPath, v.name+".tar")
			remoteTar := filepath.Join(remoteBackupPath, v.name+".tar")
			if _, err := e.Store.Get(ctx, remoteTar, tarPath, 3); err != nil {
				mu.Lock()
				outcomes = append(outcomes, volumeprocessor.VolumeOutcome{VolumePath: tarPath, Status: false, Output: err.Error()})
				mu.Unlock()
				return nil
			}
			submitDecode(tarPath, v.name)
			return nil
		})
	}

	// 6. Join transfer then decode
	_ = transferPool.Join()
	_ = decodePool.Join()

	// 7. Metadata
	if err := e.fetchMetadataFiles(ctx, rc, remoteBackupPath, destPath, codec, outcome); err != nil {
		outcome.Failed = true
		outcome.FailureMessage = err.Error()
		return outcome, err
	}

	// 8. Verify
	var failMsgs []string
	for _, o := range outcomes {
		if !o.Status {
			failMsgs = append(failMsgs, o.Output)
		}
	}
	if _, err := os.Stat(filepath.Join(destPath, config.SuccessFlagFile)); err != nil {
		return outcome, bur.New(bur.KindMissingSuccessFlag, fmt.Sprintf("%s/%s missing BACKUP_OK locally after download", rc.Customer.Name, tag))
	}
	for _, name := range volumes {
		if _, err := os.Stat(filepath.Join(destPath, name)); err != nil {
			failMsgs = append(failMsgs, bur.New(bur.KindMissingVolume, fmt.Sprintf("volume directory %s not reconstructed", name)).Error())
		}
	}
	if !rc.IsGenieCustomer {
		for _, name := range volumes {
			volDir := filepath.Join(destPath, name)
			if _, err := os.Stat(volDir); err == nil {
				if err := validator.VerifyContentMD5(volDir); err != nil {
					failMsgs = append(failMsgs, err.Error())
				}
			}
		}
	}
	if len(failMsgs) > 0 {
		outcome.Failed = true
		outcome.FailureMessage = strings.Join(failMsgs, "; ")
		return outcome, bur.New(bur.KindDownloadProcessFailed, outcome.FailureMessage)
	}

	return outcome, nil
}

type volumeRef struct {
	name    string
	tarPath string
}

// classifyVolumes drops done volumes entirely, returns ready-to-decode
// volumes for immediate decode submission, and marks everything else
// missing to be fetched.
func (e *Engine) classifyVolumes(destPath string, volumes []string, isGenie bool) (missing, ready []volumeRef) {
	for _, name := range volumes {
		volDir := filepath.Join(destPath, name)
		if info, err := os.Stat(volDir); err == nil && info.IsDir() {
			if isGenie || validator.ValidateVolume(volDir) == nil {
				continue // done
			}
			_ = os.RemoveAll(volDir)
		}

		tarPath := filepath.Join(destPath, name+".tar")
		if _, err := os.Stat(tarPath); err == nil {
			ready = append(ready, volumeRef{name: name, tarPath: tarPath})
			continue
		}

		missing = append(missing, volumeRef{name: name})
	}
	return missing, ready
}

// fetchVolumeList fetches and reads the volume-list descriptor.
func (e *Engine) fetchVolumeList(ctx context.Context, rc config.RunContext, remoteBackupPath, stageDir string) ([]string, error) {
	get := func(ctx context.Context, remotePath, local string) error {
		_, err := e.Store.Get(ctx, remotePath, local, 3)
		return err
	}
	return descriptor.Read(ctx, get, stageDir, remoteBackupPath, config.VolumeListDescriptorName)
}

// fetchMetadataFiles fetches the file-list descriptor and every listed
// top-level file not already locally present, extracting and decrypting
// backup.metadata's archived form.
func (e *Engine) fetchMetadataFiles(ctx context.Context, rc config.RunContext, remoteBackupPath, destPath string, codec *cryptocodec.Codec, outcome *BackupOutcome) error {
	get := func(ctx context.Context, remotePath, local string) error {
		_, err := e.Store.Get(ctx, remotePath, local, 3)
		return err
	}
	files, err := descriptor.Read(ctx, get, destPath, remoteBackupPath, config.FileListDescriptorName)
	if err != nil {
		return err
	}

	for _, f := range files {
		localPath := filepath.Join(destPath, f)
		if _, statErr := os.Stat(localPath); statErr == nil {
			continue
		}
		if f == config.BackupMetaFile+".gz.tar" {
			if _, statErr := os.Stat(filepath.Join(destPath, config.BackupMetaFile)); statErr == nil {
				continue
			}
		}

		remotePath := filepath.Join(remoteBackupPath, f)
		if err := get(ctx, remotePath, localPath); err != nil {
			return bur.Wrap(bur.KindTransfer, fmt.Sprintf("fetch metadata file %s", f), err)
		}

		if f == config.BackupMetaFile+".gz.tar" {
			if err := extractAndDecrypt(ctx, codec, localPath, destPath); err != nil {
				return err
			}
		}
	}
	return nil
}

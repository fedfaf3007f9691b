package uploadengine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ericsson-bur/offsite-backup/internal/backupset"
	"github.com/ericsson-bur/offsite-backup/internal/config"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
	"github.com/ericsson-bur/offsite-backup/internal/remotestore"
)

// fakeStore is an in-memory RemoteStore used to drive Engine without a real
// SSH connection or rsync binary.
type fakeStore struct {
	remoteFiles map[string]bool
	dirs        map[string]bool
	puts        []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{remoteFiles: map[string]bool{}, dirs: map[string]bool{}}
}

func (f *fakeStore) PathExists(ctx context.Context, path string) (bool, error) {
	return f.remoteFiles[path], nil
}

func (f *fakeStore) MkdirP(ctx context.Context, path string) (bool, error) {
	f.dirs[path] = true
	return true, nil
}

func (f *fakeStore) Put(ctx context.Context, local, remotePath string, retries int) (remotestore.TransferStats, error) {
	if _, err := os.Stat(local); err != nil {
		return remotestore.TransferStats{}, err
	}
	f.remoteFiles[remotePath] = true
	f.puts = append(f.puts, remotePath)
	return remotestore.TransferStats{NumberOfFiles: 1, Transferred: 1}, nil
}

func newTestEngine(store *fakeStore) *Engine {
	logger, err := observability.NewLogger("info")
	if err != nil {
		panic(err)
	}
	return New(store, logger)
}

func TestPartitionClassifiesVolumes(t *testing.T) {
	tmp := t.TempDir()
	bsPath := filepath.Join(tmp, "backup")
	tmpBackupPath := filepath.Join(tmp, "tmp")
	remoteBackupPath := "/remote/customer/tag1"

	for _, name := range []string{"vol_transferred", "vol_pretransferred", "vol_unfinished", "vol_pending"} {
		if err := os.MkdirAll(filepath.Join(bsPath, name), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		t.Fatal(err)
	}
	// vol_pretransferred already has an encoded tar staged locally.
	if err := os.WriteFile(filepath.Join(tmpBackupPath, "vol_pretransferred.tar"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	// vol_unfinished has a partial working directory left from a prior run.
	if err := os.MkdirAll(filepath.Join(tmpBackupPath, "vol_unfinished"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpBackupPath, "vol_unfinished", "partial"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.remoteFiles[filepath.Join(remoteBackupPath, "vol_transferred.tar")] = true

	bs := &backupset.BackupSet{
		Customer: "acme",
		Tag:      "tag1",
		Path:     bsPath,
		Volumes:  []string{"vol_transferred", "vol_pretransferred", "vol_unfinished", "vol_pending"},
	}
	rc := config.RunContext{Customer: config.Customer{Name: "acme"}}

	e := newTestEngine(store)
	pending, preTransferred, err := e.partition(context.Background(), rc, bs, remoteBackupPath, tmpBackupPath)
	if err != nil {
		t.Fatalf("partition: %v", err)
	}

	var pendingNames, preNames []string
	for _, v := range pending {
		pendingNames = append(pendingNames, v.name)
	}
	for _, v := range preTransferred {
		preNames = append(preNames, v.name)
	}
	sort.Strings(pendingNames)
	sort.Strings(preNames)

	if len(preNames) != 1 || preNames[0] != "vol_pretransferred" {
		t.Fatalf("preTransferred = %v, want [vol_pretransferred]", preNames)
	}
	if len(pendingNames) != 2 || pendingNames[0] != "vol_pending" || pendingNames[1] != "vol_unfinished" {
		t.Fatalf("pending = %v, want [vol_pending vol_unfinished]", pendingNames)
	}
	if _, err := os.Stat(filepath.Join(tmpBackupPath, "vol_unfinished")); !os.IsNotExist(err) {
		t.Fatalf("expected unfinished volume dir to be removed, stat err = %v", err)
	}
}

func TestTransferMetadataFilesWritesBackupOKLast(t *testing.T) {
	tmp := t.TempDir()
	bsPath := filepath.Join(tmp, "backup")
	tmpBackupPath := filepath.Join(tmp, "tmp")
	remoteBackupPath := "/remote/customer/tag1"
	if err := os.MkdirAll(bsPath, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bsPath, config.SuccessFlagFile), []byte("ok"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	bs := &backupset.BackupSet{
		Customer: "acme",
		Tag:      "tag1",
		Path:     bsPath,
		TopFiles: []string{config.SuccessFlagFile},
		HasFlag:  true,
	}
	rc := config.RunContext{Customer: config.Customer{Name: "acme"}}
	e := newTestEngine(store)
	outcome := &BackupOutcome{Customer: "acme", Tag: "tag1"}

	if err := e.transferMetadataFiles(context.Background(), rc, bs, remoteBackupPath, tmpBackupPath, nil, outcome); err != nil {
		t.Fatalf("transferMetadataFiles: %v", err)
	}

	if len(store.puts) == 0 || store.puts[len(store.puts)-1] != filepath.Join(remoteBackupPath, config.SuccessFlagFile) {
		t.Fatalf("expected BACKUP_OK to be the last Put, got %v", store.puts)
	}
	if !store.remoteFiles[filepath.Join(remoteBackupPath, config.SuccessFlagFile)] {
		t.Fatalf("BACKUP_OK was not transferred")
	}
}

func TestTransferMetadataFilesSkipsExisting(t *testing.T) {
	tmp := t.TempDir()
	bsPath := filepath.Join(tmp, "backup")
	tmpBackupPath := filepath.Join(tmp, "tmp")
	remoteBackupPath := "/remote/customer/tag1"
	if err := os.MkdirAll(bsPath, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bsPath, config.SuccessFlagFile), []byte("ok"), 0o600); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.remoteFiles[filepath.Join(remoteBackupPath, config.SuccessFlagFile)] = true

	bs := &backupset.BackupSet{
		Customer: "acme",
		Tag:      "tag1",
		Path:     bsPath,
		TopFiles: []string{config.SuccessFlagFile},
		HasFlag:  true,
	}
	rc := config.RunContext{Customer: config.Customer{Name: "acme"}}
	e := newTestEngine(store)
	outcome := &BackupOutcome{Customer: "acme", Tag: "tag1"}

	if err := e.transferMetadataFiles(context.Background(), rc, bs, remoteBackupPath, tmpBackupPath, nil, outcome); err != nil {
		t.Fatalf("transferMetadataFiles: %v", err)
	}
	if len(store.puts) != 0 {
		t.Fatalf("expected no Put calls when BACKUP_OK already transferred, got %v", store.puts)
	}
}

func TestWriteDescriptorsIfAbsentSkipsWhenPresent(t *testing.T) {
	tmp := t.TempDir()
	tmpBackupPath := filepath.Join(tmp, "tmp")
	remoteBackupPath := "/remote/customer/tag1"
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	store.remoteFiles[filepath.Join(remoteBackupPath, config.VolumeListDescriptorName)] = true
	store.remoteFiles[filepath.Join(remoteBackupPath, config.FileListDescriptorName)] = true

	bs := &backupset.BackupSet{Customer: "acme", Tag: "tag1", Volumes: []string{"vol1"}, TopFiles: []string{config.SuccessFlagFile}}
	rc := config.RunContext{Customer: config.Customer{Name: "acme"}}
	e := newTestEngine(store)

	if err := e.writeDescriptorsIfAbsent(context.Background(), rc, bs, remoteBackupPath, tmpBackupPath); err != nil {
		t.Fatalf("writeDescriptorsIfAbsent: %v", err)
	}
	if len(store.puts) != 0 {
		t.Fatalf("expected no Put calls when descriptors already exist, got %v", store.puts)
	}
}

func TestWriteDescriptorsIfAbsentWritesWhenMissing(t *testing.T) {
	tmp := t.TempDir()
	tmpBackupPath := filepath.Join(tmp, "tmp")
	remoteBackupPath := "/remote/customer/tag1"
	if err := os.MkdirAll(tmpBackupPath, 0o700); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	bs := &backupset.BackupSet{Customer: "acme", Tag: "tag1", Volumes: []string{"vol1", "vol2"}, TopFiles: []string{config.SuccessFlagFile}}
	rc := config.RunContext{Customer: config.Customer{Name: "acme"}}
	e := newTestEngine(store)

	if err := e.writeDescriptorsIfAbsent(context.Background(), rc, bs, remoteBackupPath, tmpBackupPath); err != nil {
		t.Fatalf("writeDescriptorsIfAbsent: %v", err)
	}
	if !store.remoteFiles[filepath.Join(remoteBackupPath, config.VolumeListDescriptorName)] {
		t.Fatalf("expected volume list descriptor to be transferred")
	}
	if !store.remoteFiles[filepath.Join(remoteBackupPath, config.FileListDescriptorName)] {
		t.Fatalf("expected file list descriptor to be transferred")
	}
}

func TestProcessBackupFailsFastWithNoVolumesOrFiles(t *testing.T) {
	tmp := t.TempDir()
	bsPath := filepath.Join(tmp, "backup")
	if err := os.MkdirAll(bsPath, 0o700); err != nil {
		t.Fatal(err)
	}

	store := newFakeStore()
	e := newTestEngine(store)
	bs := &backupset.BackupSet{Customer: "acme", Tag: "tag1", Path: bsPath}
	rc := config.RunContext{
		Customer: config.Customer{Name: "acme"},
		Offsite:  config.OffsiteConfig{RemoteRoot: "/remote", Folder: "bkp"},
		TempRoot: filepath.Join(tmp, "tmp-root"),
	}

	_, err := e.ProcessBackup(context.Background(), rc, bs)
	if err == nil {
		t.Fatal("expected error for a backup set with no volumes or top-level files")
	}
}

func TestFileListNamesUsesOnWireNames(t *testing.T) {
	bs := &backupset.BackupSet{
		TopFiles:   []string{config.SuccessFlagFile, config.BackupMetaFile, "stray.log"},
		Unexpected: []string{"stray.log"},
	}

	names := fileListNames(bs)
	if len(names) != 2 {
		t.Fatalf("got %v, want exactly the two expected files", names)
	}
	if names[0] != config.SuccessFlagFile {
		t.Fatalf("got %q, want %q", names[0], config.SuccessFlagFile)
	}
	if names[1] != config.BackupMetaFile+".gz.tar" {
		t.Fatalf("got %q, want archived metadata name", names[1])
	}
}

package descriptor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	stageDir := t.TempDir()
	remoteDir := t.TempDir() // stands in for a remote directory in this test

	put := func(ctx context.Context, local, remotePath string) error {
		data, err := os.ReadFile(local)
		if err != nil {
			return err
		}
		return os.WriteFile(remotePath, data, 0o600)
	}
	get := func(ctx context.Context, remotePath, local string) error {
		data, err := os.ReadFile(remotePath)
		if err != nil {
			return err
		}
		return os.WriteFile(local, data, 0o600)
	}

	want := []string{"volume0", "volume1", "volume2"}
	if err := Write(context.Background(), put, stageDir, remoteDir, VolumeListName, want); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(stageDir, VolumeListName)); !os.IsNotExist(err) {
		t.Fatalf("expected local staged copy to be removed after write")
	}

	got, err := Read(context.Background(), get, stageDir, remoteDir, VolumeListName)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	if _, err := os.Stat(filepath.Join(stageDir, VolumeListName)); !os.IsNotExist(err) {
		t.Fatalf("expected local staged copy to be removed after read")
	}
}

func TestReadRejectsNonListPayload(t *testing.T) {
	stageDir := t.TempDir()
	remoteDir := t.TempDir()
	remotePath := filepath.Join(remoteDir, FileListName)
	if err := os.WriteFile(remotePath, []byte(`{"not": "a list"}`), 0o600); err != nil {
		t.Fatalf("seed remote file: %v", err)
	}

	get := func(ctx context.Context, remotePath, local string) error {
		data, err := os.ReadFile(remotePath)
		if err != nil {
			return err
		}
		return os.WriteFile(local, data, 0o600)
	}

	if _, err := Read(context.Background(), get, stageDir, remoteDir, FileListName); err == nil {
		t.Fatalf("expected error for non-list payload")
	}
}

func TestWritePropagatesTransferFailure(t *testing.T) {
	stageDir := t.TempDir()
	failingPut := func(ctx context.Context, local, remotePath string) error {
		return errors.New("simulated transfer failure")
	}

	err := Write(context.Background(), failingPut, stageDir, t.TempDir(), VolumeListName, []string{"v0"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

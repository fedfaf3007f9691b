package volumeprocessor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ericsson-bur/offsite-backup/internal/cryptocodec"
)

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			t.Skipf("%s not available in test environment", n)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	requireBinaries(t, "gzip", "gunzip", "gpg", "tar")

	gpgHome := t.TempDir()
	id := cryptocodec.Identity{Name: "Test Backup", Email: "vp-test@example.invalid", GPGHome: gpgHome}
	if err := cryptocodec.EnsureKey(context.Background(), id); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	codec := cryptocodec.New(id)
	proc := New(codec, 2)

	volumeDir := t.TempDir()
	for _, name := range []string{"file0.dat", "file1.dat"} {
		if err := os.WriteFile(filepath.Join(volumeDir, name), []byte("payload-"+name), 0o600); err != nil {
			t.Fatalf("seed volume file %s: %v", name, err)
		}
	}

	tmpVolumeDir := filepath.Join(t.TempDir(), "volume0")
	outcome := proc.Encode(context.Background(), volumeDir, tmpVolumeDir)
	if !outcome.Status {
		t.Fatalf("encode failed: %s", outcome.Output)
	}
	if filepath.Ext(outcome.VolumePath) != ".tar" {
		t.Fatalf("expected .tar output, got %s", outcome.VolumePath)
	}
	if _, err := os.Stat(tmpVolumeDir); !os.IsNotExist(err) {
		t.Fatalf("expected tmp volume dir to be removed after archiving")
	}

	decodeOutcome := proc.Decode(context.Background(), outcome.VolumePath)
	if !decodeOutcome.Status {
		t.Fatalf("decode failed: %s", decodeOutcome.Output)
	}
	for _, name := range []string{"file0.dat", "file1.dat"} {
		got, err := os.ReadFile(filepath.Join(decodeOutcome.VolumePath, name))
		if err != nil {
			t.Fatalf("read decoded %s: %v", name, err)
		}
		if string(got) != "payload-"+name {
			t.Fatalf("decoded %s mismatch: got %q", name, got)
		}
	}
}

package cryptocodec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			t.Skipf("%s not available in test environment", n)
		}
	}
}

func testIdentity(t *testing.T) Identity {
	t.Helper()
	home := t.TempDir()
	id := Identity{Name: "Test Backup", Email: "bur-test@example.invalid", GPGHome: home}
	if err := os.Chmod(home, 0o700); err != nil {
		t.Fatalf("chmod gpg home: %v", err)
	}
	if err := EnsureKey(context.Background(), id); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	return id
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	requireBinaries(t, "gzip", "gunzip", "gpg")
	id := testIdentity(t)
	c := New(id)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "payload.bin")
	want := []byte("round trip content for cryptocodec")
	if err := os.WriteFile(srcPath, want, 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	encPath, err := c.EncryptOne(context.Background(), srcPath, dstDir)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if filepath.Ext(encPath) != ".gpg" {
		t.Fatalf("expected .gpg output, got %s", encPath)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "payload.bin.gz")); err == nil {
		t.Fatalf("intermediate .gz should be removed on success")
	}

	decPath, err := c.DecryptOne(context.Background(), encPath, false)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	got, err := os.ReadFile(decPath)
	if err != nil {
		t.Fatalf("read decoded: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("round trip mismatch: got %q want %q", got, want)
	}
}

func TestEncryptManyAggregatesAcrossFiles(t *testing.T) {
	requireBinaries(t, "gzip", "gunzip", "gpg")
	id := testIdentity(t)
	c := New(id)

	srcDir := t.TempDir()
	dstDir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		if err := os.WriteFile(filepath.Join(srcDir, name), []byte(name), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	if err := c.EncryptMany(context.Background(), srcDir, dstDir, 2); err != nil {
		t.Fatalf("encrypt many: %v", err)
	}

	entries, err := os.ReadDir(dstDir)
	if err != nil {
		t.Fatalf("read dst dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d encrypted files, want 3", len(entries))
	}

	if err := c.DecryptMany(context.Background(), dstDir, 2); err != nil {
		t.Fatalf("decrypt many: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		got, err := os.ReadFile(filepath.Join(dstDir, name))
		if err != nil {
			t.Fatalf("read decrypted %s: %v", name, err)
		}
		if string(got) != name {
			t.Fatalf("decrypted %s mismatch: got %q", name, got)
		}
	}
}

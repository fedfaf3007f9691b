package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "no-such-config.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pools.Processors != DefaultNumProcessors || cfg.Pools.Threads != DefaultNumThreads || cfg.Pools.Transfer != DefaultNumTransferProcs {
		t.Fatalf("unexpected pool defaults: %+v", cfg.Pools)
	}
	if cfg.Offsite.RetentionCount != DefaultOffsiteRetention {
		t.Fatalf("retention default: got %d want %d", cfg.Offsite.RetentionCount, DefaultOffsiteRetention)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Offsite = OffsiteConfig{Host: "archive.example.invalid", User: "backup", RemoteRoot: "/srv/backups", Folder: "offsite", RetentionCount: 7}
	cfg.AddCustomer(Customer{Name: "CUSTOMER_0", LocalBackupRoot: "/data/customer_0"})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Offsite.RetentionCount != 7 {
		t.Fatalf("retention: got %d want 7", loaded.Offsite.RetentionCount)
	}
	cust, ok := loaded.GetCustomer("CUSTOMER_0")
	if !ok || cust.LocalBackupRoot != "/data/customer_0" {
		t.Fatalf("customer not round-tripped: %+v ok=%v", cust, ok)
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"offsite_conn":{"ip":"10.0.0.1"}}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Offsite.Host != "10.0.0.1" {
		t.Fatalf("explicit host lost: %q", cfg.Offsite.Host)
	}
	if cfg.Pools.Processors != DefaultNumProcessors {
		t.Fatalf("processors default not applied: %d", cfg.Pools.Processors)
	}
	if cfg.GPG.UserEmail == "" {
		t.Fatalf("gpg email default not applied")
	}
}

func TestParseMaxDelaySuffixes(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"50s", 50 * time.Second},
		{"90m", 90 * time.Minute},
		{"2h", 2 * time.Hour},
		{"45", 45 * time.Second},
		{"", 0},
	}
	for _, c := range cases {
		got, err := ParseMaxDelay(c.in)
		if err != nil {
			t.Fatalf("parse %q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("parse %q: got %v want %v", c.in, got, c.want)
		}
	}

	if _, err := ParseMaxDelay("soon"); err == nil {
		t.Fatalf("expected error for unparseable delay")
	}
}

func TestMaxDelayUnmarshalAcceptsStringAndNumber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"bkp_max_delay":"90m"}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Delay.Duration() != 90*time.Minute {
		t.Fatalf("string delay: got %v want 90m", cfg.Delay.Duration())
	}

	if err := os.WriteFile(path, []byte(`{"bkp_max_delay":120}`), 0o600); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Delay.Duration() != 120*time.Second {
		t.Fatalf("numeric delay: got %v want 120s", cfg.Delay.Duration())
	}
}

func TestOffsiteConfigDerivedFields(t *testing.T) {
	o := OffsiteConfig{Host: "archive.example.invalid", User: "backup", RemoteRoot: "/srv/backups", Folder: "offsite"}
	if got, want := o.HostAddress(), "backup@archive.example.invalid"; got != want {
		t.Fatalf("host address: got %q want %q", got, want)
	}
	if got, want := o.FullRoot(), "/srv/backups/offsite"; got != want {
		t.Fatalf("full root: got %q want %q", got, want)
	}
}

func TestRedactHidesSensitiveFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Offsite.User = "backup"
	cfg.GPG.Home = "/home/backup/.gnupg"

	r := cfg.Redact()
	if r["offsite_user"] != "***REDACTED***" {
		t.Fatalf("offsite user leaked: %v", r["offsite_user"])
	}
	if r["gpg_home"] != "***REDACTED***" {
		t.Fatalf("gpg home leaked: %v", r["gpg_home"])
	}
}

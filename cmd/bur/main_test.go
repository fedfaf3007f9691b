package main

import (
	"testing"

	"github.com/ericsson-bur/offsite-backup/internal/config"
	"github.com/ericsson-bur/offsite-backup/internal/observability"
)

func TestParsePoolSizeFallsBackOnUnparseableInput(t *testing.T) {
	logger, err := observability.NewLogger("info")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	cases := []struct {
		raw  string
		want int
	}{
		{"7", 7},
		{" 3 ", 3},
		{"abc", config.DefaultNumProcessors},
		{"", config.DefaultNumProcessors},
		{"2.5", config.DefaultNumProcessors},
		{"-1", -1}, // non-positive values are clamped later, not here
	}
	for _, c := range cases {
		if got := parsePoolSize(logger, "number_processors", c.raw, config.DefaultNumProcessors); got != c.want {
			t.Fatalf("parsePoolSize(%q): got %d want %d", c.raw, got, c.want)
		}
	}
}

func TestMapLogLevel(t *testing.T) {
	cases := map[string]string{
		"critical": "fatal",
		"warning":  "warn",
		"info":     "info",
		"debug":    "debug",
	}
	for in, want := range cases {
		if got := mapLogLevel(in); got != want {
			t.Fatalf("mapLogLevel(%q): got %q want %q", in, got, want)
		}
	}
}

package main

import "testing"

func TestLoadConfigRequiresURL(t *testing.T) {
	t.Parallel()
	if _, err := loadConfig(nil); err == nil {
		t.Fatal("expected an error when no --url is given")
	}
}

func TestLoadConfigAcceptsURLFlag(t *testing.T) {
	t.Parallel()
	cfg, err := loadConfig([]string{"--url", "moq://relay.example.com/live/room"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.URL != "moq://relay.example.com/live/room" {
		t.Fatalf("got %q", cfg.URL)
	}
}

func TestNewLoggerAcceptsAllLevelsAndFormats(t *testing.T) {
	t.Parallel()
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		for _, format := range []string{"text", "json", "bogus"} {
			if l := newLogger(level, format); l == nil {
				t.Fatalf("newLogger(%q, %q) returned nil", level, format)
			}
		}
	}
}

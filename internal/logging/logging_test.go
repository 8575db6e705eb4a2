package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parley-chat/parley/internal/config"
)

func TestNew_StdoutCloserIsSafe(t *testing.T) {
	logger, closer := New(config.LoggingConfig{Level: "info"})
	if logger == nil {
		t.Fatal("expected a logger")
	}
	if closer == nil {
		t.Fatal("closer must never be nil, callers defer Close unconditionally")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_FileCloser(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parley.log")
	logger, closer := New(config.LoggingConfig{Level: "debug", Format: "text", File: path})

	logger.Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "DEBUG",
		"info":  "INFO",
		"warn":  "WARN",
		"error": "ERROR",
		"":      "INFO",
		"bogus": "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

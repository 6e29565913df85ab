package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, source, err := loadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != "built-in defaults" {
		t.Errorf("source = %q, want built-in defaults", source)
	}
	if cfg.RemoteEnabled() {
		t.Error("defaults must be local-only")
	}
}

func TestLoadConfig_ExplicitMissingFile(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for an explicit missing config, got nil")
	}
}

func TestLoadConfig_Explicit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  addr: \":9999\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, source, err := loadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != path {
		t.Errorf("source = %q, want %q", source, path)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("HTTP.Addr = %q, want :9999", cfg.HTTP.Addr)
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "pulsebook ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSyncCommand_LocalOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "local_db_path: " + filepath.Join(dir, "pb.db") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sync", "--config", path})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected the unavailable error without a remote, got nil")
	}
	if !strings.Contains(out.String(), `"status": "error"`) {
		t.Errorf("output = %q, want an error result", out.String())
	}
}

func TestUserAndPractitionerAdd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "local_db_path: " + filepath.Join(dir, "pb.db") + "\n"
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := rootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append(args, "--config", path))
		err := cmd.Execute()
		return out.String(), err
	}

	out, err := run("user", "add", "--username", "admin", "--role", "admin")
	if err != nil {
		t.Fatalf("user add: %v", err)
	}
	if !strings.Contains(out, `created user "admin"`) {
		t.Errorf("output = %q", out)
	}
	if _, err := run("user", "add", "--username", "admin"); err == nil {
		t.Error("expected a duplicate username to fail")
	}

	out, err = run("practitioner", "add", "--name", "王医生", "--role", "doctor")
	if err != nil {
		t.Fatalf("practitioner add: %v", err)
	}
	if !strings.Contains(out, `created doctor "王医生"`) {
		t.Errorf("output = %q", out)
	}
}

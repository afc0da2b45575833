package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPidFileFromConfig(t *testing.T) {
	t.Setenv("OTS_PID_FILE", "")
	dir := t.TempDir()

	withPid := filepath.Join(dir, "with.yaml")
	if err := os.WriteFile(withPid, []byte("server:\n  pid_file: /tmp/custom.pid\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := pidFileFromConfig(withPid)
	if err != nil || got != "/tmp/custom.pid" {
		t.Fatalf("got=%q err=%v", got, err)
	}

	without := filepath.Join(dir, "without.yaml")
	if err := os.WriteFile(without, []byte("server:\n  listen: \":8080\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got, err := pidFileFromConfig(without); err != nil || got != "/var/run/ots.pid" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if got, err := pidFileFromConfig(""); err != nil || got != "/var/run/ots.pid" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := pidFileFromConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config")
	}

	t.Setenv("OTS_PID_FILE", "/run/env.pid")
	if got, err := pidFileFromConfig(withPid); err != nil || got != "/run/env.pid" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pid")
	if err := os.WriteFile(good, []byte("4242\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if pid, err := readPID(good); err != nil || pid != 4242 {
		t.Fatalf("pid=%d err=%v", pid, err)
	}
	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("-1"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readPID(bad); err == nil {
		t.Fatalf("expected error for invalid pid")
	}
	if _, err := readPID(filepath.Join(dir, "none.pid")); err == nil {
		t.Fatalf("expected error for missing pid file")
	}
}

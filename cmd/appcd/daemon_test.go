package main

import (
	"os"
	"strconv"
	"testing"

	"github.com/basket/appcd/internal/config"
)

func TestReadRunningPID_MissingFile(t *testing.T) {
	if _, ok := readRunningPID(pidFilePath(t.TempDir())); ok {
		t.Fatal("expected ok=false for a missing pidfile")
	}
}

func TestReadRunningPID_StalePIDIsCleanedUp(t *testing.T) {
	home := t.TempDir()
	path := pidFilePath(home)
	// PID 1 belongs to init on a normal Linux host but is never this
	// test process; use an implausibly large PID instead so the check
	// is robust across environments.
	if err := os.WriteFile(path, []byte("999999"), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	if _, ok := readRunningPID(path); ok {
		t.Fatal("expected ok=false for a stale pid")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected stale pidfile to be removed")
	}
}

func TestReadRunningPID_LiveProcess(t *testing.T) {
	home := t.TempDir()
	path := pidFilePath(home)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pidfile: %v", err)
	}
	pid, ok := readRunningPID(path)
	if !ok || pid != os.Getpid() {
		t.Fatalf("expected ok=true and pid=%d, got ok=%v pid=%d", os.Getpid(), ok, pid)
	}
}

func TestDaemonStatus_NotRunning(t *testing.T) {
	cfg := config.Config{HomeDir: t.TempDir()}
	if code := daemonStatus(cfg); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestDaemonStop_NotRunning(t *testing.T) {
	cfg := config.Config{HomeDir: t.TempDir()}
	if code := daemonStop(cfg); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}

func TestRunDaemonCommand_RejectsUnknownAction(t *testing.T) {
	home := t.TempDir()
	t.Setenv("APPCD_HOME", home)
	if code := runDaemonCommand([]string{"frobnicate"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRunDaemonCommand_RejectsWrongArgCount(t *testing.T) {
	if code := runDaemonCommand(nil); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := runDaemonCommand([]string{"start", "extra"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

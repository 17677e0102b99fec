package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/basket/appcd/internal/config"
)

func pidFilePath(homeDir string) string {
	return filepath.Join(homeDir, "appcd.pid")
}

func runDaemonCommand(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: appcd daemon start|stop|status")
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "start":
		return daemonStart(cfg)
	case "stop":
		return daemonStop(cfg)
	case "status":
		return daemonStatus(cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: appcd daemon start|stop|status")
		return 2
	}
}

func daemonStart(cfg config.Config) int {
	pidPath := pidFilePath(cfg.HomeDir)
	if pid, ok := readRunningPID(pidPath); ok {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve executable: %v\n", err)
		return 1
	}

	logPath := filepath.Join(cfg.HomeDir, "logs", "daemon.out")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create log dir: %v\n", err)
		return 1
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open daemon log: %v\n", err)
		return 1
	}
	defer logFile.Close()

	proc, err := os.StartProcess(self, []string{self}, &os.ProcAttr{
		Dir:   "",
		Env:   os.Environ(),
		Files: []*os.File{nil, logFile, logFile},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start daemon process: %v\n", err)
		return 1
	}

	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(proc.Pid)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write pidfile: %v\n", err)
		return 1
	}
	fmt.Printf("daemon started (pid %d)\n", proc.Pid)
	return 0
}

func daemonStop(cfg config.Config) int {
	pidPath := pidFilePath(cfg.HomeDir)
	pid, ok := readRunningPID(pidPath)
	if !ok {
		fmt.Fprintln(os.Stderr, "daemon is not running")
		return 1
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find process %d: %v\n", pid, err)
		return 1
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "signal process %d: %v\n", pid, err)
		return 1
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = os.Remove(pidPath)
	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return 0
}

func daemonStatus(cfg config.Config) int {
	pidPath := pidFilePath(cfg.HomeDir)
	pid, ok := readRunningPID(pidPath)
	if !ok {
		fmt.Println("daemon is not running")
		return 1
	}
	fmt.Printf("daemon is running (pid %d)\n", pid)
	return 0
}

// readRunningPID reads pidPath and reports whether the pid it names
// still belongs to a live process, cleaning up a stale pidfile if not.
func readRunningPID(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

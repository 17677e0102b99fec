// Package doctor runs a small set of startup diagnostics against a
// loaded config, the same checks cmd/appcd's doctor subcommand prints.
// Adapted from go-claw's internal/doctor, trimmed to the daemon's own
// concerns (no LLM provider keys, no embedded database, no sandbox).
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/appcd/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against cfg.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkHomeDirWritable,
		checkPluginDir,
		checkBindAddr,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "no config.yaml found; running on defaults"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("loaded from %s", cfg.HomeDir)}
}

func checkHomeDirWritable(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "home directory writable"}
}

func checkPluginDir(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Plugin directory", Status: "SKIP", Message: "config missing"}
	}
	if _, err := os.Stat(cfg.PluginDir); err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Plugin directory", Status: "WARN", Message: fmt.Sprintf("%s does not exist yet; no manifests will be mounted at startup", cfg.PluginDir)}
		}
		return CheckResult{Name: "Plugin directory", Status: "FAIL", Message: err.Error()}
	}
	return CheckResult{Name: "Plugin directory", Status: "PASS", Message: fmt.Sprintf("%s exists", cfg.PluginDir)}
}

func checkBindAddr(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bind address", Status: "SKIP", Message: "config missing"}
	}
	host, port, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		return CheckResult{Name: "Bind address", Status: "FAIL", Message: fmt.Sprintf("invalid bind_addr %q: %v", cfg.BindAddr, err)}
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return CheckResult{Name: "Bind address", Status: "WARN", Message: fmt.Sprintf("%s is already in use (daemon may already be running)", cfg.BindAddr)}
	}
	ln.Close()
	return CheckResult{Name: "Bind address", Status: "PASS", Message: fmt.Sprintf("%s is free", cfg.BindAddr)}
}

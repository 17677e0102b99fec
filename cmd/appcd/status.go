package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/appcd/internal/config"
)

// healthPayload mirrors the JSON object healthzHandler writes in
// main.go; decoding into a struct (rather than echoing the raw body
// straight to stdout) lets this command report each field with its
// own label and drive the process exit code off the Healthy flag
// instead of just the HTTP status.
type healthPayload struct {
	Healthy             bool  `json:"healthy"`
	UptimeSeconds       int64 `json:"uptime_seconds"`
	Routes              int   `json:"routes"`
	ActiveSubscriptions int   `json:"active_subscriptions"`
}

func runStatusCommand(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}

	healthURL := healthzURL(cfg.BindAddr)

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, healthURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request: %v\n", err)
		return 1
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "daemon unreachable at %s: %v\n", healthURL, err)
		return 1
	}
	defer resp.Body.Close()

	var health healthPayload
	decodeErr := json.NewDecoder(resp.Body).Decode(&health)
	if resp.StatusCode != http.StatusOK || decodeErr != nil {
		fmt.Fprintf(os.Stderr, "daemon returned unhealthy response (status %d)\n", resp.StatusCode)
		return 1
	}

	printHealth(health)
	if !health.Healthy {
		return 1
	}
	return 0
}

func healthzURL(bindAddr string) string {
	addr := strings.TrimSpace(bindAddr)
	if addr == "" {
		addr = "127.0.0.1:1732"
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/") + "/healthz"
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr + "/healthz"
}

func printHealth(h healthPayload) {
	colorize := isatty.IsTerminal(os.Stdout.Fd())
	label := "HEALTHY"
	style := statusPass
	if !h.Healthy {
		label = "UNHEALTHY"
		style = statusFail
	}
	if colorize {
		label = style.Render(label)
	}
	fmt.Printf("appcd: %s\n", label)
	fmt.Printf("  uptime:               %s\n", (time.Duration(h.UptimeSeconds) * time.Second).String())
	fmt.Printf("  registered routes:    %d\n", h.Routes)
	fmt.Printf("  active subscriptions: %d\n", h.ActiveSubscriptions)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/appcd/internal/config"
	"github.com/basket/appcd/internal/doctor"
)

var (
	statusPass = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	statusFail = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	statusSkip = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runDoctorCommand(ctx context.Context, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil && !cfg.NeedsGenesis {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
	}

	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding json: %v\n", err)
			return 1
		}
		return 0
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd())

	fmt.Printf("appcd doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	failCount := 0
	for _, res := range diag.Results {
		label := res.Status
		if colorize {
			switch res.Status {
			case "PASS":
				label = statusPass.Render(label)
			case "WARN":
				label = statusWarn.Render(label)
			case "FAIL":
				label = statusFail.Render(label)
			case "SKIP":
				label = statusSkip.Render(label)
			}
		}
		if res.Status == "FAIL" {
			failCount++
		}
		fmt.Printf("[%s] %-16s: %s\n", label, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}

	if failCount > 0 {
		return 1
	}
	return 0
}

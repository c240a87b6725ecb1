package cmd

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/goyais/worker/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check worker environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("goyais-worker doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (not found, env-only)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Worker:")
	fmt.Printf("    %-18s %s\n", "ID:", cfg.Worker.ID)
	fmt.Printf("    %-18s %s", "Runtime:", cfg.Worker.EffectiveRuntime())
	if cfg.Worker.RuntimeFallback() {
		fmt.Printf(" (requested %s, not available)", cfg.Worker.Runtime)
	}
	fmt.Println()
	fmt.Printf("    %-18s %d\n", "Max concurrency:", cfg.Worker.MaxConcurrency)
	fmt.Printf("    %-18s %ds\n", "Lease:", cfg.Worker.LeaseSeconds)
	fmt.Printf("    %-18s %d\n", "Max model turns:", cfg.Worker.MaxModelTurns)
	fmt.Printf("    %-18s %d\n", "Max subagents:", cfg.Worker.MaxSubagents)
	fmt.Printf("    %-18s %s:%d\n", "Listen:", cfg.Server.Host, cfg.Server.Port)
	checkToken("Internal token:", cfg.ResolveInternalToken())

	fmt.Println()
	fmt.Println("  Hub:")
	fmt.Printf("    %-18s %s\n", "Base URL:", cfg.Hub.BaseURL)
	checkToken("Internal token:", cfg.Hub.InternalToken)
	checkHub(cfg.Hub.BaseURL)

	fmt.Println()
	fmt.Println("  Git:")
	if path, err := exec.LookPath("git"); err != nil {
		fmt.Printf("    %-18s NOT FOUND (worktree lanes disabled, executions run in place)\n", "Binary:")
	} else {
		fmt.Printf("    %-18s %s\n", "Binary:", path)
	}

	fmt.Println()
	fmt.Println("  Model API keys:")
	for _, env := range []string{
		"OPENAI_API_KEY", "GOOGLE_API_KEY", "QWEN_API_KEY",
		"DOUBAO_API_KEY", "ZHIPU_API_KEY", "MINIMAX_API_KEY", "MODEL_API_KEY",
	} {
		checkKey(env)
	}

	if cfg.Telemetry.Enabled {
		fmt.Println()
		fmt.Println("  Telemetry:")
		fmt.Printf("    %-18s %s (%s)\n", "Endpoint:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}
}

func checkToken(label, token string) {
	switch {
	case token == "":
		fmt.Printf("    %-18s NOT CONFIGURED\n", label)
	case token == config.DefaultInternalToken:
		fmt.Printf("    %-18s insecure default (dev only)\n", label)
	default:
		fmt.Printf("    %-18s configured\n", label)
	}
}

func checkHub(baseURL string) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/health")
	if err != nil {
		fmt.Printf("    %-18s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	defer resp.Body.Close()
	fmt.Printf("    %-18s reachable (HTTP %d)\n", "Status:", resp.StatusCode)
}

func checkKey(env string) {
	if strings.TrimSpace(os.Getenv(env)) != "" {
		fmt.Printf("    %-18s set\n", env+":")
	} else {
		fmt.Printf("    %-18s -\n", env+":")
	}
}

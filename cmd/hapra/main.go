// Package main provides the CLI entry point for hapra, the bridge between
// the Honu chat server and agents hosted on an ADK runtime.
//
// # Basic Usage
//
// Start the bridge:
//
//	hapra serve --config hapra.yaml
//
// Inspect an agent signature:
//
//	hapra signature decode external_agent/eyJhZ2...
//
// List gateway tools:
//
//	hapra tools list --tags public
//
// # Environment Variables
//
//   - HAPRA_CONFIG: Path to configuration file (default: hapra.yaml)
//   - HAPRA_PORT, HAPRA_PUBLIC_URL, HAPRA_RUNTIME_URL, HAPRA_TOOLS_URL,
//     HAPRA_LOG_LEVEL: override the matching configuration values
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "hapra.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hapra",
		Short: "hapra - agent router between Honu chat and ADK agents",
		Long: `hapra receives chat webhooks, runs agent turns on an ADK runtime and
relays the agent's text, tool activity and errors back into the conversation.

It also exposes the tools of an MCP gateway and registers heartbeat tasks
with the HAP task scheduler.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSignatureCmd(),
		buildToolsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath returns path, HAPRA_CONFIG or the default file name, in
// that order.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("HAPRA_CONFIG")); env != "" {
		return env
	}
	return defaultConfigName
}

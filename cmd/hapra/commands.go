package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent router",
		Long: `Start the agent router HTTP server.

The server will:
1. Load configuration from the specified file (or hapra.yaml)
2. Connect to the ADK runtime and MCP tool gateway lazily, per request
3. Serve the /hapra/v1 API, /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  hapra serve

  # Start with a custom config
  hapra serve --config /etc/hapra/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	return cmd
}

// buildSignatureCmd creates the "signature" command group.
func buildSignatureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signature",
		Short: "Encode and decode agent signatures",
	}
	cmd.AddCommand(buildSignatureDecodeCmd(), buildSignatureEncodeCmd())
	return cmd
}

func buildSignatureDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <signature>",
		Short: "Print the fields of an agent signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignatureDecode(cmd, args[0])
		},
	}
}

func buildSignatureEncodeCmd() *cobra.Command {
	var agentURL, appName, modelRef string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build an agent signature",
		Example: `  hapra signature encode --agent-url http://agents:8000 --app helper --model-ref "org|domain|model"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignatureEncode(cmd, agentURL, appName, modelRef)
		},
	}
	cmd.Flags().StringVar(&agentURL, "agent-url", "", "Base URL of the agent router")
	cmd.Flags().StringVar(&appName, "app", "", "ADK app name")
	cmd.Flags().StringVar(&modelRef, "model-ref", "", "Model reference")
	_ = cmd.MarkFlagRequired("agent-url")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("model-ref")
	return cmd
}

// buildToolsCmd creates the "tools" command group.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the MCP tool gateway",
	}
	cmd.AddCommand(buildToolsListCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		configPath string
		tags       []string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gateway tools, optionally filtered by tag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, resolveConfigPath(configPath), tags, asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Only list tools carrying one of these tags")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate configuration and print its schema",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hapra %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/hapra/internal/config"
	"github.com/haasonsaas/hapra/internal/mcp"
	"github.com/haasonsaas/hapra/internal/observability"
	"github.com/haasonsaas/hapra/internal/signature"
)

func runSignatureDecode(cmd *cobra.Command, raw string) error {
	sig, err := signature.Decode(raw)
	if err != nil {
		return err
	}
	return writeIndentedJSON(cmd.OutOrStdout(), sig)
}

func runSignatureEncode(cmd *cobra.Command, agentURL, appName, modelRef string) error {
	sig := signature.Signature{AgentURL: agentURL, AppName: appName, ModelRef: modelRef}
	if err := sig.Validate(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signature.Encode(sig))
	return nil
}

// loadConfigOrDefault loads path, falling back to defaults when the default
// config file does not exist.
func loadConfigOrDefault(path string) (*config.Config, error) {
	if path == defaultConfigName {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runToolsList(cmd *cobra.Command, configPath string, tags []string, asJSON bool) error {
	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  "warn",
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	tools := mcp.NewToolSet(mcp.ToolSetConfig{
		URL:              cfg.Tools.URL,
		Headers:          cfg.Tools.Headers,
		Tags:             cfg.Tools.Tags,
		ModelHeader:      cfg.Tools.ModelHeader,
		DiscoveryTimeout: cfg.Tools.DiscoveryTimeout,
		InvokeTimeout:    cfg.Tools.InvokeTimeout,
	}, logger, nil, nil)

	list, err := tools.ListTools(cmd.Context(), tags)
	if err != nil {
		return err
	}
	return printTools(cmd.OutOrStdout(), list, asJSON)
}

func printTools(out io.Writer, list []*mcp.Tool, asJSON bool) error {
	if asJSON {
		type entry struct {
			Name        string          `json:"name"`
			Description string          `json:"description,omitempty"`
			Tags        []string        `json:"tags"`
			InputSchema json.RawMessage `json:"input_schema"`
		}
		entries := make([]entry, 0, len(list))
		for _, tool := range list {
			entries = append(entries, entry{
				Name:        tool.Name(),
				Description: tool.Description(),
				Tags:        tool.Tags(),
				InputSchema: tool.InputSchema(),
			})
		}
		return writeIndentedJSON(out, entries)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No tools found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTAGS\tDESCRIPTION")
	for _, tool := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name(), strings.Join(tool.Tags(), ","), firstLine(tool.Description()))
	}
	return w.Flush()
}

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	slog.Debug("config loaded", "path", configPath)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (port %d, runtime %s, tools %s, heartbeat %t)\n",
		configPath, cfg.Server.Port, cfg.Runtime.URL, cfg.Tools.URL, cfg.Heartbeat.Enabled)
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	data, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

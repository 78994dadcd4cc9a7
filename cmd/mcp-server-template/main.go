// Command mcp-server-template serves a catalog profile over stdio or
// streamable HTTP.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ggoodman/mcp-server-template/internal/logctx"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "mcp-server-template",
		Short:         "Minimal Model Context Protocol server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")

	rootCmd.AddCommand(
		serveCmd(opts),
		listCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mcp-server-template %s\n", version)
			return err
		},
	}
}

// newLogger builds the process logger. Records carry the request and call
// attributes found in their context.
func newLogger(w io.Writer, format string, lv *slog.LevelVar) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

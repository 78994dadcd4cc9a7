package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ggoodman/mcp-server-template/config"
	"github.com/ggoodman/mcp-server-template/internal/engine"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/registry"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errInvalidOutput = errors.New("output must be json or yaml")

type listing struct {
	Profile   string                 `json:"profile"`
	Server    mcp.ImplementationInfo `json:"server"`
	Tools     []mcp.Tool             `json:"tools"`
	Prompts   []mcp.Prompt           `json:"prompts"`
	Resources []mcp.Resource         `json:"resources"`
}

func listCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the operations a profile registers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output != "json" && output != "yaml" {
				return errInvalidOutput
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			l, err := buildListing(cfg)
			if err != nil {
				return err
			}
			return writeListing(cmd.OutOrStdout(), output, l)
		},
	}
	cmd.Flags().String("profile", "", "Catalog profile to list")
	cmd.Flags().StringP("output", "o", "json", "Output format: json or yaml")
	return cmd
}

func buildListing(cfg config.Config) (*listing, error) {
	reg, info, _, err := buildRegistry(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, err
	}

	l := &listing{Profile: cfg.Profile, Server: info}
	for _, d := range reg.List(registry.Tool) {
		l.Tools = append(l.Tools, engine.ToolDescriptor(d))
	}
	for _, d := range reg.List(registry.Prompt) {
		l.Prompts = append(l.Prompts, engine.PromptDescriptor(d))
	}
	for _, d := range reg.List(registry.Resource) {
		l.Resources = append(l.Resources, engine.ResourceDescriptor(d))
	}
	return l, nil
}

// writeListing renders l as indented JSON or as YAML with the JSON field names.
func writeListing(w io.Writer, output string, l *listing) error {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	if output == "json" {
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("convert listing: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

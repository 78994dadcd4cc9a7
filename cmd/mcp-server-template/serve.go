package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-server-template/catalog"
	"github.com/ggoodman/mcp-server-template/config"
	"github.com/ggoodman/mcp-server-template/dispatch"
	"github.com/ggoodman/mcp-server-template/internal/engine"
	"github.com/ggoodman/mcp-server-template/mcp"
	"github.com/ggoodman/mcp-server-template/registry"
	"github.com/ggoodman/mcp-server-template/stdio"
	"github.com/ggoodman/mcp-server-template/streaminghttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a catalog profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runServe(cmd, opts, cfg)
		},
	}
	cmd.Flags().String("profile", "", "Catalog profile to serve")
	cmd.Flags().String("transport", "", "Transport: stdio or http")
	cmd.Flags().String("http-addr", "", "Listen address for the http transport")
	cmd.Flags().String("http-path", "", "Endpoint path for the http transport")
	cmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().String("log-format", "", "Log format: text or json")
	return cmd
}

// loadConfig loads the configuration and applies any flags the user set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	overrides := map[string]*string{
		"profile":    &cfg.Profile,
		"transport":  &cfg.Transport,
		"http-addr":  &cfg.HTTPAddr,
		"http-path":  &cfg.HTTPPath,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	}
	for name, dst := range overrides {
		f := cmd.Flags().Lookup(name)
		if f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildRegistry registers the profile's operations and freezes the registry.
// It also resolves the server identity, applying any configured overrides.
func buildRegistry(cfg config.Config, log *slog.Logger) (*registry.Registry, mcp.ImplementationInfo, string, error) {
	profile, err := catalog.Lookup(cfg.Profile)
	if err != nil {
		return nil, mcp.ImplementationInfo{}, "", err
	}

	reg := registry.New()
	profile.Register(reg, log)
	reg.Freeze()

	info := profile.Server
	if cfg.ServerName != "" {
		info.Name = cfg.ServerName
	}
	if cfg.ServerVersion != "" {
		info.Version = cfg.ServerVersion
	}
	instructions := profile.Instructions
	if cfg.Instructions != "" {
		instructions = cfg.Instructions
	}
	return reg, info, instructions, nil
}

func buildEngine(cfg config.Config, log *slog.Logger, lv *slog.LevelVar) (*engine.Engine, error) {
	reg, info, instructions, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}
	return engine.NewEngine(dispatch.New(reg, dispatch.WithLogger(log)), info,
		engine.WithLogger(log),
		engine.WithInstructions(instructions),
		engine.WithLevelVar(lv),
	), nil
}

func runServe(cmd *cobra.Command, opts *rootOptions, cfg config.Config) error {
	lv := new(slog.LevelVar)
	lv.Set(cfg.Level())
	log := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, lv)

	eng, err := buildEngine(cfg, log, lv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.InfoContext(ctx, "server.start",
		slog.String("profile", cfg.Profile),
		slog.String("transport", cfg.Transport),
		slog.String("version", version),
	)

	g, gctx := errgroup.WithContext(ctx)

	// A level pinned on the command line is not reloaded from the file.
	if opts.configPath != "" && !cmd.Flags().Changed("log-level") {
		g.Go(func() error {
			return config.WatchLogLevel(gctx, opts.configPath, lv, log)
		})
	}

	g.Go(func() error {
		defer cancel()
		switch cfg.Transport {
		case config.TransportHTTP:
			return serveHTTP(gctx, g, cfg, eng, log)
		default:
			h := stdio.NewHandler(eng,
				stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				stdio.WithLogger(log),
				stdio.WithMaxInFlight(cfg.MaxInFlight),
				stdio.WithCallTimeout(cfg.CallTimeout),
			)
			return h.Serve(gctx)
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.ErrorContext(ctx, "server.stop.fail", slog.String("err", err.Error()))
		return err
	}
	log.InfoContext(context.Background(), "server.stop")
	return nil
}

func serveHTTP(ctx context.Context, g *errgroup.Group, cfg config.Config, eng *engine.Engine, log *slog.Logger) error {
	h, err := streaminghttp.New(eng,
		streaminghttp.WithPath(cfg.HTTPPath),
		streaminghttp.WithLogger(log),
		streaminghttp.WithCallTimeout(cfg.CallTimeout),
		streaminghttp.WithSessionIdleTimeout(cfg.SessionIdleTimeout),
	)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	g.Go(func() error {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.InfoContext(ctx, "http.listen", slog.String("addr", ln.Addr().String()), slog.String("path", cfg.HTTPPath))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

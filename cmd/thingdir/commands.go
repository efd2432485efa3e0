package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/thingdir/internal/config"
	"github.com/dreamware/thingdir/internal/node"
	"github.com/dreamware/thingdir/internal/tracing"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "thingdir",
		Short:         "Hierarchical Thing Description directory node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to the node's YAML config")
	root.AddCommand(newServeCmd(), newCheckConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a directory node until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := tracing.Init(ctx, tracing.Options{
				NodeName: cfg.Name,
				Exporter: cfg.Tracing.Exporter,
				Endpoint: cfg.Tracing.Endpoint,
				Insecure: cfg.Tracing.Insecure,
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownTracing(context.Background())

			n, err := node.Build(cfg, logger)
			if err != nil {
				return err
			}
			defer n.Close()

			err = n.Run(ctx)
			logger.Info("node stopped")
			return err
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file and print the resolved topology",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			topo, err := cfg.Topology()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "node %s listening on %s%s\n", cfg.Name, cfg.Listen, cfg.APIPrefix)
			if p, ok := topo.Parent(); ok {
				fmt.Fprintf(out, "  parent   %s %s\n", p.Name, p.URL)
			}
			if m, ok := topo.Master(); ok {
				fmt.Fprintf(out, "  master   %s %s\n", m.Name, m.URL)
			}
			for _, c := range topo.Children() {
				fmt.Fprintf(out, "  child    %s %s\n", c.Name, c.URL)
			}
			for _, s := range topo.Shortcuts() {
				fmt.Fprintf(out, "  shortcut %s via %s\n", s.Target, s.Via)
			}
			if d := topo.DescendantNames(); len(d) > 0 {
				fmt.Fprintf(out, "  reachable below: %s\n", strings.Join(d, ", "))
			}
			fmt.Fprintln(out, "config OK")
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Command rasterflowd hosts the engine's worker pools and dispatch loop
// as a long-running process. Recipe rasters are registered in-process
// by the Go program embedding rasterflowd's packages — this binary's job
// is config resolution, pool sizing, logging setup, and the run loop,
// mirroring the teacher's cmd/geotiff2pmtiles driver split from its
// internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rasterflow/rasterflow/internal/config"
	"github.com/rasterflow/rasterflow/internal/raster"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rasterflowd",
	Short: "Asynchronous tiled raster computation engine daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the configured worker pools and block until signalled",
	RunE:  runRun,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./rasterflow.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, nil)
	if err != nil {
		return err
	}
	if override, _ := cmd.Flags().GetString("log-level"); override != "" {
		cfg.LogLevel = override
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(log)

	engine := raster.NewEngine(log)
	for _, p := range cfg.Pools {
		switch p.Kind {
		case "process":
			engine.AddProcessPool(p.Name, p.Workers)
		default:
			engine.AddThreadPool(p.Name, p.Workers)
		}
		log.Info("registered worker pool", "name", p.Name, "kind", p.Kind, "workers", p.Workers)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("rasterflowd starting", "cache_root", cfg.CacheRoot)
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("rasterflowd: %w", err)
	}
	return engine.Close()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

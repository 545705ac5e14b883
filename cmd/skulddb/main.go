// Package main provides the SkuldDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orneryd/skulddb/pkg/config"
	"github.com/orneryd/skulddb/pkg/server"
	"github.com/orneryd/skulddb/pkg/skulddb"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "skulddb",
		Short: "SkuldDB - Temporal Causal Knowledge Graph",
		Long: `SkuldDB is an embedded temporal causal knowledge graph for
trading systems: a store for timestamped entities and weighted
relations, plus analytics that infer causal hypotheses, assemble
causal chains, mine periodic patterns, and project future events.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("SkuldDB v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SkuldDB server",
		Long:  "Open the database and serve the ingestion and query HTTP API until interrupted.",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().Int("http-port", 0, "HTTP API port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print graph statistics as JSON",
		RunE:  runStats,
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges environment, optional config file, and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.LoadFromEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Database.DataDir = dir
	}
	if port, _ := cmd.Flags().GetInt("http-port"); port != 0 {
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Logging.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	db, err := skulddb.Open(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.Server.Enabled {
		log.Info().Msg("http server disabled, running headless until interrupted")
		waitForSignal()
		return nil
	}

	srv := server.New(db, cfg.Server, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-errCh
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Stats is a one-shot read; no ticker, no server.
	cfg.Graph.EvictionEnabled = false
	cfg.Server.Enabled = false

	db, err := skulddb.Open(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer db.Close()

	out, err := json.MarshalIndent(db.Stats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

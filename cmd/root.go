// Package cmd implements the foundrybridge CLI.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
	"github.com/nextlevelbuilder/foundrybridge/internal/config"
	"github.com/nextlevelbuilder/foundrybridge/internal/namecache"
	"github.com/nextlevelbuilder/foundrybridge/internal/tracing"
	"github.com/nextlevelbuilder/foundrybridge/internal/worldcache"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

var (
	flagConfig string
	flagURL    string
	flagJSON   bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foundrybridge",
		Short: "Bridge client for a Foundry-style virtual tabletop server",
		Long: `foundrybridge keeps an authenticated session against a Foundry-style
virtual tabletop server and exposes its documents (actors, items, chat,
scenes, macros) from the command line.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default foundrybridge.json5, then env)")
	cmd.PersistentFlags().StringVar(&flagURL, "url", "", "server base URL (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output as JSON")

	cmd.AddCommand(statusCmd())
	cmd.AddCommand(actorsCmd())
	cmd.AddCommand(chatCmd())
	cmd.AddCommand(rollCmd())
	cmd.AddCommand(watchCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if flagURL != "" {
		cfg.URL = flagURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
	return cfg
}

func resolveConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if env := os.Getenv("FOUNDRY_CONFIG"); env != "" {
		return env
	}
	return "foundrybridge.json5"
}

// withClient logs in, runs fn and tears the session down again. Every
// network-touching subcommand goes through here.
func withClient(fn func(ctx context.Context, c *bridge.Client) error) {
	withObservedClient(nil, fn)
}

func withObservedClient(onEvent func(protocol.Event), fn func(ctx context.Context, c *bridge.Client) error) {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := namecache.New()
	if cfg.NameCachePath != "" {
		if s, err := namecache.OpenSQLite(cfg.NameCachePath); err == nil {
			names = s
		} else {
			slog.Warn("name cache unavailable, running in-memory", "path", cfg.NameCachePath, "error", err)
		}
	}
	defer names.Close()

	tp, err := tracing.New(ctx, cfg.OTLPEndpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer tp.Shutdown(context.Background())

	client := bridge.New(bridge.Options{
		URL:            cfg.URL,
		Username:       cfg.Username,
		Password:       cfg.ResolvePassword(),
		FallbackUserID: cfg.UserID,
		SystemID:       cfg.SystemID,
		Worlds:         worldcache.New(),
		Names:          names,
		Tracer:         tp.Tracer(),
		OnEvent:        onEvent,
	})

	if err := client.Login(ctx, "", ""); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Disconnect("cli exit")

	if err := fn(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

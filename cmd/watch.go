package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
	"github.com/nextlevelbuilder/foundrybridge/internal/config"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream inbound server events until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			withObservedClient(printEvent, func(ctx context.Context, c *bridge.Client) error {
				// Long-running session: pick up config edits (debug level)
				// without a restart.
				if w, err := config.NewWatcher(resolveConfigPath()); err == nil {
					w.OnReload(func(cfg *config.Config) {
						level := slog.LevelInfo
						if cfg.Debug {
							level = slog.LevelDebug
						}
						slog.SetLogLoggerLevel(level)
						slog.Info("config reloaded", "debug", cfg.Debug)
					})
					if err := w.Start(); err == nil {
						defer w.Stop()
					}
				}

				fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", c.URL())
				<-ctx.Done()
				return nil
			})
		},
	}
}

func printEvent(ev protocol.Event) {
	ts := time.Now().Format("15:04:05.000")
	if flagJSON {
		out := map[string]any{"time": ts, "event": protocol.EventName(ev), "data": ev}
		json.NewEncoder(os.Stdout).Encode(out)
		return
	}
	switch e := ev.(type) {
	case protocol.UnknownEvent:
		fmt.Printf("[%s] %s (unhandled)\n", ts, e.Name)
	default:
		fmt.Printf("[%s] %s %+v\n", ts, protocol.EventName(ev), ev)
	}
}

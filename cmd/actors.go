package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
)

func actorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actors",
		Short: "Inspect the world's actors",
	}
	cmd.AddCommand(actorsListCmd())
	cmd.AddCommand(actorsShowCmd())
	return cmd
}

func actorsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all actors",
		Run: func(cmd *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *bridge.Client) error {
				actors, err := c.GetActors(ctx)
				if err != nil {
					return err
				}
				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(actors)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTYPE")
				for _, a := range actors {
					fmt.Fprintf(w, "%s\t%s\t%s\n", a.ID, a.Name, a.Type)
				}
				return w.Flush()
			})
		},
	}
}

func actorsShowCmd() *cobra.Command {
	var systemID string
	cmd := &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show one actor, shaped by its game-system adapter",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *bridge.Client) error {
				actor, err := c.GetActor(ctx, args[0], systemID)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(actor)
			})
		},
	}
	cmd.Flags().StringVar(&systemID, "system", "", "force a game-system adapter")
	return cmd
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
)

func rollCmd() *cobra.Command {
	var flavor string
	cmd := &cobra.Command{
		Use:   "roll <formula>",
		Short: "Roll dice in chat (e.g. 2d20kh1+5)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *bridge.Client) error {
				doc, err := c.Roll(ctx, args[0], flavor)
				if err != nil {
					return err
				}
				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(doc)
				}
				fmt.Printf("rolled %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flavor, "flavor", "", "flavor text for the roll")
	return cmd
}

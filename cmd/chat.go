package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and post chat messages",
	}
	cmd.AddCommand(chatLogCmd())
	cmd.AddCommand(chatSendCmd())
	return cmd
}

func chatLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the most recent chat messages",
		Run: func(cmd *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *bridge.Client) error {
				msgs, err := c.GetChatLog(ctx, limit)
				if err != nil {
					return err
				}
				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(msgs)
				}
				for _, m := range msgs {
					who := m.SpeakerAlias
					if who == "" {
						who = m.UserName
					}
					if who == "" {
						who = m.UserID
					}
					ts := time.UnixMilli(m.Timestamp).Format("15:04:05")
					line := m.Content
					if m.Flavor != "" {
						line = m.Flavor + " — " + line
					}
					fmt.Printf("[%s] %s: %s\n", ts, who, line)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "messages to show (default 100)")
	return cmd
}

func chatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <message...>",
		Short: "Post a chat message",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withClient(func(ctx context.Context, c *bridge.Client) error {
				doc, err := c.SendMessage(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if flagJSON {
					return json.NewEncoder(os.Stdout).Encode(doc)
				}
				fmt.Println("sent")
				return nil
			})
		},
	}
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/foundrybridge/internal/bridge"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection status and the active world's system",
		Run: func(cmd *cobra.Command, args []string) {
			withClient(runStatus)
		},
	}
}

type statusReport struct {
	URL       string `json:"url"`
	Status    string `json:"status"`
	LoggedIn  bool   `json:"loggedIn"`
	Connected bool   `json:"connected"`
	UserID    string `json:"userId,omitempty"`
	System    string `json:"system,omitempty"`
	Title     string `json:"title,omitempty"`
	Version   string `json:"version,omitempty"`
}

func runStatus(ctx context.Context, c *bridge.Client) error {
	report := statusReport{
		URL:       c.URL(),
		Status:    string(c.Status()),
		LoggedIn:  c.IsLoggedIn(),
		Connected: c.IsConnected(),
	}
	if uid, err := c.GetCurrentUserID(); err == nil {
		report.UserID = uid
	}
	if sys, err := c.GetSystem(ctx); err == nil {
		report.System = sys.ID
		report.Title = sys.Title
		report.Version = sys.Version
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	fmt.Printf("Server:    %s\n", report.URL)
	fmt.Printf("Status:    %s\n", report.Status)
	fmt.Printf("Logged in: %v\n", report.LoggedIn)
	if report.UserID != "" {
		fmt.Printf("User:      %s\n", report.UserID)
	}
	if report.System != "" || report.Title != "" {
		fmt.Printf("System:    %s %s (%s)\n", report.System, report.Version, report.Title)
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/postfiatorg/validator-history-service/internal/client"
	"github.com/postfiatorg/validator-history-service/internal/ui"
)

var (
	serverURL   string
	serverToken string
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show health and the last cycle report of a running service",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewHTTPClient(serverURL, serverToken)
		ctx := cmd.Context()

		h, err := c.Health(ctx)
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		rep, err := c.LastCycle(ctx)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			rep, err = nil, nil
		}
		if err != nil {
			return fmt.Errorf("last cycle: %w", err)
		}

		if jsonOutput {
			printJSON(map[string]any{"health": h, "last_cycle": rep})
			return nil
		}
		fmt.Printf("Status:  %s\n", ui.RenderOK(h.Status))
		fmt.Printf("Running: %s\n", ui.RenderBool(h.CycleRunning))
		if rep == nil {
			fmt.Println(ui.RenderMuted("no cycle has completed yet"))
			return nil
		}
		printReport(rep)
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:     "trigger",
	Short:   "Ask a running service to run a cycle now",
	GroupID: "remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		rep, err := client.NewHTTPClient(serverURL, serverToken).RunCycle(ctx)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return fmt.Errorf("a cycle is already running on %s", serverURL)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(rep)
		} else {
			printReport(rep)
		}
		if rep.Failed() > 0 {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, triggerCmd} {
		cmd.Flags().StringVar(&serverURL, "server", envOr("VHS_SERVER", "http://localhost:8080"), "base URL of the vhs HTTP API")
		cmd.Flags().StringVar(&serverToken, "token", os.Getenv("VHS_AUTH_TOKEN"), "bearer token for mutating requests")
	}
}

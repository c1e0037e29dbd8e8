package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// serveCmd starts the HTTP gateway.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Starts the HTTP gateway in the foreground.

The gateway serves the OAuth authorization flow (/oauth/authorize and
/oauth/callback), token diagnostics and an authenticated passthrough to the
CRM API. Every CRM call obtains a valid token first; a call rejected with
401 triggers one forced refresh and one retry.

Configuration:
  Settings are read from the YAML config file, then from the dotenv file,
  then from the process environment (AMO_DOMAIN, AMO_CLIENT_ID,
  AMO_CLIENT_SECRET, AMO_REDIRECT_URI, TOKEN_STORAGE_PATH, API_KEY, ...).
  Later sources win.

The server stops gracefully on SIGINT or SIGTERM. When run as a systemd
unit with Type=notify it reports readiness once the listener is open.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

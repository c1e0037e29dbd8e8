package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"crmgate/internal/auth"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the stored CRM authorization",
	Long: `Manage the OAuth2 token pair the gateway uses for the CRM.

Examples:
  crmgate auth url                     # Print the consent URL
  crmgate auth exchange <code>         # Redeem an authorization code
  crmgate auth status                  # Show the stored token state
  crmgate auth refresh                 # Force a token refresh`,
}

var authURLCmd = &cobra.Command{
	Use:   "url",
	Short: "Print the consent URL",
	Long: `Print the URL that grants the integration access to the CRM account.

Open it in a browser and approve access. The state parameter is recorded next
to the token store and stays valid for ten minutes, so when the redirect URI
points at a running gateway the code is exchanged automatically; otherwise copy
the code parameter from the redirect and pass it to 'crmgate auth exchange'.`,
	Args: cobra.NoArgs,
	RunE: runAuthURL,
}

var authExchangeCmd = &cobra.Command{
	Use:   "exchange <code>",
	Short: "Redeem an authorization code",
	Long: `Exchange an authorization code for a token pair and store it.

Authorization codes are short-lived and single-use.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuthExchange,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored token state",
	Long: `Show whether a token is stored, when it expires and which account it
belongs to. The token is not refreshed and secrets are never printed.`,
	Args: cobra.NoArgs,
	RunE: runAuthStatus,
}

var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Refresh the stored token regardless of its expiry.

The refresh takes the same cross-process lock as the gateway, so it is safe
to run while 'crmgate serve' is up.`,
	Args: cobra.NoArgs,
	RunE: runAuthRefresh,
}

func runAuthURL(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Close()

	authURL, _ := application.Services().Authorizer.AuthURL()
	fmt.Fprintln(cmd.OutOrStdout(), authURL)
	return nil
}

func runAuthExchange(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Close()

	err = withSpinner(cmd.ErrOrStderr(), " Exchanging authorization code...", func() error {
		return application.Services().Tokens.ExchangeAuthorizationCode(commandContext(cmd), args[0])
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text.FgGreen.Sprint("Authorization stored"))
	return printStatus(cmd.OutOrStdout(), application.Services().Tokens.Status(commandContext(cmd)))
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Close()

	return printStatus(cmd.OutOrStdout(), application.Services().Tokens.Status(commandContext(cmd)))
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Close()

	err = withSpinner(cmd.ErrOrStderr(), " Refreshing access token...", func() error {
		_, err := application.Services().Tokens.ForceRefresh(commandContext(cmd), "")
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text.FgGreen.Sprint("Token refreshed"))
	return printStatus(cmd.OutOrStdout(), application.Services().Tokens.Status(commandContext(cmd)))
}

// printStatus renders a token status as a two-column table.
func printStatus(w io.Writer, st auth.Status) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	state := text.FgGreen.Sprint("valid")
	switch {
	case !st.Authorized:
		state = text.FgYellow.Sprint("not authorized")
	case st.Expired:
		state = text.FgYellow.Sprint("expired")
	}

	t.AppendRow(table.Row{"Status", state})
	t.AppendRow(table.Row{"Domain", st.ConfiguredDomain})
	if st.Authorized {
		t.AppendRow(table.Row{"Access token", st.AccessToken.String()})
		if st.ExpiresAt != nil {
			t.AppendRow(table.Row{"Expires at", st.ExpiresAt.Format(time.RFC3339)})
		}
		if st.ExpiresIn != "" {
			t.AppendRow(table.Row{"Expires in", st.ExpiresIn})
		}
		if st.AccountDomain != "" {
			t.AppendRow(table.Row{"Stored domain", st.AccountDomain})
		}
		if st.DomainMismatch {
			t.AppendRow(table.Row{"Warning", text.FgRed.Sprint("stored domain differs from configured domain")})
		}
		if st.Claims != nil && st.Claims.AccountID != 0 {
			t.AppendRow(table.Row{"Account ID", st.Claims.AccountID})
		}
	}
	if st.Error != "" {
		t.AppendRow(table.Row{"Error", st.Error})
	}

	t.Render()
	if !st.Authorized {
		fmt.Fprintln(w, "Run: crmgate auth url")
	}
	return nil
}

// withSpinner shows a progress spinner on w while fn runs. The spinner is
// skipped in quiet mode and when w is not a terminal.
func withSpinner(w io.Writer, suffix string, fn func() error) error {
	f, ok := w.(*os.File)
	if quiet || !ok || !term.IsTerminal(int(f.Fd())) {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = suffix
	s.Start()
	err := fn()
	if err != nil {
		s.FinalMSG = text.FgRed.Sprint("Failed") + "\n"
	}
	s.Stop()
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authURLCmd)
	authCmd.AddCommand(authExchangeCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
}

package cmd

import (
	"errors"
	"os"

	"crmgate/internal/app"
	"crmgate/internal/auth"
	"crmgate/internal/oauth"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates no usable token is stored and the
	// integration must be authorized first.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the CRM token endpoint rejected a grant.
	ExitCodeAuthFailed = 3
)

// Global flags shared by all commands.
var (
	configFile string
	envFile    string
	debug      bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "crmgate",
	Short: "OAuth2 token gateway for the amoCRM API",
	Long: `crmgate keeps an amoCRM integration authorized. It stores the OAuth2
token pair on disk, refreshes it before it expires and serializes refreshes
across processes sharing the same storage, so the single-use refresh token
is never spent twice.

Run 'crmgate serve' for the HTTP gateway or use the auth and call commands
directly from scripts.`,
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a semantic exit code on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "crmgate version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if errors.Is(err, auth.ErrAuthorizationRequired) {
		return ExitCodeAuthRequired
	}

	var authErr *oauth.AuthError
	if errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}

	if errors.Is(err, auth.ErrTokenUnavailable) {
		return ExitCodeAuthRequired
	}

	return ExitCodeError
}

// newApplication bootstraps the application from the global flags.
func newApplication() (*app.Application, error) {
	cfg := app.NewConfig(debug, configFile, envFile)
	cfg.Silent = quiet
	return app.NewApplication(cfg)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default is $HOME/.config/crmgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Dotenv file to load (default is .env in the working directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress log output")

	rootCmd.AddCommand(newVersionCmd())
}

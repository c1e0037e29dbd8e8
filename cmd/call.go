package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var callData string

// callCmd performs one authenticated CRM request.
var callCmd = &cobra.Command{
	Use:   "call <method> <path>",
	Short: "Perform an authenticated CRM API request",
	Long: `Perform one request against the CRM API with a valid access token and
print the JSON response.

The token is refreshed first when it is about to expire. A 401 answer
forces one refresh and one retry.

Examples:
  crmgate call GET /api/v4/account
  crmgate call GET '/api/v4/leads?limit=10'
  crmgate call POST /api/v4/leads --data '[{"name":"Deal"}]'`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func runCall(cmd *cobra.Command, args []string) error {
	method := strings.ToUpper(args[0])
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
	default:
		return fmt.Errorf("unsupported method %q", args[0])
	}

	var body interface{}
	if callData != "" {
		raw := json.RawMessage(callData)
		if !json.Valid(raw) {
			return fmt.Errorf("--data is not valid JSON")
		}
		body = raw
	}

	application, err := newApplication()
	if err != nil {
		return err
	}
	defer application.Close()

	resp, err := application.Services().CRM.Call(commandContext(cmd), method, args[1], body)
	if err != nil {
		return err
	}

	if len(resp.Data) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "HTTP %d\n", resp.StatusCode)
		return nil
	}

	var out bytes.Buffer
	if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(cmd.OutOrStdout())
	return err
}

func init() {
	callCmd.Flags().StringVarP(&callData, "data", "d", "", "JSON request body")
	rootCmd.AddCommand(callCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karatelabs/wsdriver/cdp"
)

var flagSessionID string

var callCmd = &cobra.Command{
	Use:   "call <url> <method> [params-json]",
	Short: "Send one CDP command and print the result",
	Long: `Connects to a CDP endpoint, sends a single command, and prints the
result object as JSON. Example:

  wsdriver call ws://127.0.0.1:9222/devtools/page/ABC Page.navigate '{"url":"https://example.com"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&flagSessionID, "session", "", "CDP session id to scope the command to")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	client, err := cdp.Connect(context.Background(), args[0], cdp.Options{
		DefaultTimeout: flagTimeout,
	})
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	msg := client.Method(args[1])
	if flagSessionID != "" {
		msg.SessionID(flagSessionID)
	}
	if len(args) == 3 {
		var params map[string]any
		if err := json.Unmarshal([]byte(args[2]), &params); err != nil {
			return fmt.Errorf("invalid params JSON: %w", err)
		}
		msg.Params(params)
	}

	resp, err := msg.Send()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(resp.Result(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/karatelabs/wsdriver/ws"
)

var connectCmd = &cobra.Command{
	Use:   "connect <url>",
	Short: "Connect to a WebSocket endpoint and tail frames",
	Long: `Connects to a WebSocket endpoint and prints every inbound frame.
When stdin is a terminal, each line you type is sent as a text frame;
close stdin (Ctrl-D) to disconnect.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	interval := flagPingInterval

	client, err := ws.Dial(context.Background(), ws.ClientOptions{
		URL:            args[0],
		Subprotocols:   flagSubprotocols,
		ConnectTimeout: flagTimeout,
		PingInterval:   interval,
		DisablePing:    interval <= 0,
		VerifyCerts:    flagVerifyCerts,
	})
	if err != nil {
		return err
	}

	inbound := color.New(color.FgCyan)
	errc := color.New(color.FgRed)

	client.OnMessage(func(f ws.Frame) {
		if f.IsText() {
			inbound.Fprintln(cmd.OutOrStdout(), f.Text())
		} else {
			inbound.Fprintln(cmd.OutOrStdout(), f.String())
		}
	})
	client.OnError(func(err error) {
		errc.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	})
	client.OnClose(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "connection closed")
	})

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "connected to %s, type to send (Ctrl-D to quit)\n", args[0])
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := client.Send(ws.Text(scanner.Text())); err != nil {
				return err
			}
		}
		return client.Close()
	}

	// Piped mode: tail frames until the peer closes.
	client.WaitSync()
	return nil
}

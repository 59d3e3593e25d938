// Command wsdriver is a diagnostic client for WebSocket and CDP endpoints:
// tail raw frames off a connection or issue one-shot CDP commands.
package main

import (
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	flagTimeout      time.Duration
	flagSubprotocols []string
	flagPingInterval time.Duration
	flagVerifyCerts  bool
)

var rootCmd = &cobra.Command{
	Use:           "wsdriver",
	Short:         "WebSocket and CDP diagnostic client",
	Long:          "wsdriver connects to WebSocket endpoints to tail raw frames, or speaks Chrome DevTools Protocol for one-shot commands.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 30*time.Second, "Connect and command timeout")
	rootCmd.PersistentFlags().StringSliceVar(&flagSubprotocols, "subprotocol", nil, "Subprotocol(s) to request during the handshake")
	rootCmd.PersistentFlags().DurationVar(&flagPingInterval, "ping-interval", 30*time.Second, "Keepalive ping interval (0 disables)")
	rootCmd.PersistentFlags().BoolVar(&flagVerifyCerts, "verify-certs", false, "Verify TLS certificates (default accepts any)")
}

// Command devmd is the DEVM daemon. It owns the local Bluetooth device
// and serves the DEVM protocol to client applications over a unix or TCP
// socket.
//
// The protocol engine is simulated; the peers it discovers are listed in
// the sim.devices section of the configuration file.
//
// Usage:
//
//	devmd [flags]
//
// Examples:
//
//	# Serve on the default socket with defaults
//	devmd
//
//	# Use a configuration file, power on at start and capture traffic
//	devmd --config /etc/devm/devmd.yaml --power-on --protocol-log /var/log/devmd.dlog
//
//	# Serve over TCP for remote clients
//	devmd --network tcp --socket 127.0.0.1:7420
//
//	# Print a capture
//	devmd log /var/log/devmd.dlog
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devm-project/devm-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "devmd",
	Short: "DEVM local Bluetooth device manager daemon",
	Long: `devmd owns the local Bluetooth device and arbitrates it between
client applications:

- Power sequencing with a client acknowledgement handshake
- Device discovery, LE scanning, observation scans and advertising
- A directory of remote devices with pairing and connections
- Service record publication
- Interleaved one-shot advertisements between other radio activity`,
	Version: version.String(),
	Args:    cobra.NoArgs,
	RunE:    runDaemon,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	f := rootCmd.Flags()
	f.StringVarP(&flags.config, "config", "c", "", "Configuration file (YAML)")
	f.StringVar(&flags.network, "network", "", "Listen network: unix or tcp (overrides server.network)")
	f.StringVarP(&flags.socket, "socket", "s", "", "Socket path or host:port (overrides server.address)")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	f.StringVar(&flags.protocolLog, "protocol-log", "", "Write a protocol capture to this file (overrides log.protocol_log)")
	f.BoolVar(&flags.powerOn, "power-on", false, "Power the radio on at start (overrides power.on_start)")
}

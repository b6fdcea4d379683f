// Command devm-client is an interactive shell for the DEVM daemon. Each
// shell command issues one protocol command; events received on the
// shell's callback are printed as they arrive.
//
// Usage:
//
//	devm-client [flags]
//
// Examples:
//
//	# Connect to the default socket
//	devm-client
//
//	# Connect to a daemon serving TCP
//	devm-client --network tcp --socket 127.0.0.1:7420
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devm-project/devm-go/cmd/devm-client/interactive"
	"github.com/devm-project/devm-go/pkg/client"
	"github.com/devm-project/devm-go/pkg/config"
	"github.com/devm-project/devm-go/pkg/transport"
	"github.com/devm-project/devm-go/pkg/version"
)

var flags struct {
	network  string
	socket   string
	timeout  time.Duration
	noColor  bool
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:     "devm-client",
	Short:   "Interactive shell for the DEVM daemon",
	Version: version.String(),
	Args:    cobra.NoArgs,
	RunE:    runShell,
}

func main() {
	// Failures are reported, never turned into an exit status.
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	defaults := config.Default()
	f := rootCmd.Flags()
	f.StringVar(&flags.network, "network", defaults.Server.Network, "Daemon network: unix or tcp")
	f.StringVarP(&flags.socket, "socket", "s", defaults.Server.Address, "Daemon socket path or host:port")
	f.DurationVar(&flags.timeout, "timeout", 5*time.Second, "Per-command response timeout")
	f.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	f.StringVar(&flags.logLevel, "log-level", "warn", "Client log level")
}

func runShell(cmd *cobra.Command, _ []string) error {
	color.NoColor = flags.noColor || !term.IsTerminal(int(os.Stdout.Fd()))

	logger := logrus.New()
	if level, err := logrus.ParseLevel(flags.logLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()
	c, err := client.Dial(dialCtx, transport.ClientConfig{
		Network:        flags.network,
		Address:        flags.socket,
		RequestTimeout: flags.timeout,
		Log:            logger,
		OnDisconnect: func(err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "Connection to daemon lost: %v\n", err)
			}
			stop()
		},
	}, transport.BackoffConfig{MaxAttempts: 3})
	if err != nil {
		return fmt.Errorf("connect to %s: %w", flags.socket, err)
	}
	defer c.Close()

	shell, err := interactive.New(ctx, c)
	if err != nil {
		return err
	}
	logger.SetOutput(shell.Stderr())

	shell.Run(ctx, stop)
	return nil
}

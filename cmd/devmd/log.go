package main

import (
	"github.com/spf13/cobra"

	"github.com/devm-project/devm-go/cmd/devm-log/commands"
)

var logFilter commands.FilterOptions

var logCmd = &cobra.Command{
	Use:   "log <file>",
	Short: "Print a protocol capture file",
	Long: `Print the events of a capture written with --protocol-log.

devm-log offers export, filter and stats on the same files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := logFilter.Build()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		return commands.RunView(args[0], filter, cmd.OutOrStdout())
	},
}

func init() {
	f := logCmd.Flags()
	f.StringVar(&logFilter.ConnID, "conn-id", "", "Only events of this connection")
	f.StringVar(&logFilter.Device, "device", "", "Only events about this remote device")
	f.StringVar(&logFilter.Function, "function", "", "Only messages with this function id")
	f.StringVar(&logFilter.Layer, "layer", "", "Only this layer (transport, wire, manager)")
	f.StringVar(&logFilter.Direction, "direction", "", "Only this direction (in, out)")
	f.StringVar(&logFilter.Category, "category", "", "Only this category (message, state, error)")
	rootCmd.AddCommand(logCmd)
}

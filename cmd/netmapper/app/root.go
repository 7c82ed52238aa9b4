// Package app wires netmapper's cobra subcommands: run, diff, version.
package app

import (
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/pkg/errlog"
)

var (
	cfgFile    string
	errLogPath string
)

// NewNetmapperCommand builds the root cobra command with every subcommand
// registered under it.
func NewNetmapperCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "netmapper",
		Short: "Agentless discovery and topology reconstruction for a homelab network",
		Long:  "netmapper sweeps configured subnets, fingerprints services, expands discovered platforms via adapters, and reconstructs a topology graph with a change report versus the previous run.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if errLogPath == "" {
				return nil
			}
			return errlog.EnableErrorFile(errLogPath)
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a netmapper.yaml config file (defaults to ./netmapper.yaml or /etc/netmapper/netmapper.yaml)")
	root.PersistentFlags().VarP(&errlog.LogLevel, "log-level", "l", "log level: panic, fatal, error, warn, info, debug, trace")
	root.PersistentFlags().BoolVarP(&errlog.DebugOutput, "debug", "d", false, "enable debug output (includes stack traces)")
	root.PersistentFlags().StringVar(&errLogPath, "error-log", "", "additionally write error-and-above log records to this file")

	root.AddCommand(NewCmdRun())
	root.AddCommand(NewCmdDiff())
	root.AddCommand(NewCmdVersion())

	return root
}

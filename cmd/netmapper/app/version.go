package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/pkg/topology"
)

// NewCmdVersion returns the "version" subcommand.
func NewCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the netmapper tool version",
		Args:  cobra.ExactArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("netmapper version:", topology.ToolVersion)
		},
	}
}

package app

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/netmapper/netmapper/pkg/config"
	"github.com/netmapper/netmapper/pkg/diff"
	"github.com/netmapper/netmapper/pkg/topology"
)

// NewCmdDiff returns the "diff" subcommand: load two persisted snapshots
// and print the change report between them.
func NewCmdDiff() *cobra.Command {
	var baselineID, currentID string
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two persisted topology snapshots",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(baselineID, currentID)
		},
	}
	cmd.Flags().StringVar(&baselineID, "baseline", "", "baseline scanId (defaults to the snapshot before --current)")
	cmd.Flags().StringVar(&currentID, "current", "", "current scanId (defaults to the latest snapshot)")
	return cmd
}

func runDiff(baselineID, currentID string) error {
	cfg, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}
	hist := &topology.History{Dir: cfg.History.Dir, Retention: cfg.History.Retention}

	if currentID == "" {
		currentID, err = hist.Latest()
		if err != nil {
			return errors.Wrap(err, "resolving current snapshot")
		}
	}
	current, err := hist.Load(currentID)
	if err != nil {
		return errors.Wrapf(err, "loading current snapshot %q", currentID)
	}

	if baselineID == "" {
		baselineID, err = hist.Previous(currentID)
		if err != nil {
			return errors.Wrap(err, "resolving baseline snapshot")
		}
	}
	baseline, err := hist.Load(baselineID)
	if err != nil {
		return errors.Wrapf(err, "loading baseline snapshot %q", baselineID)
	}

	report := diff.Compare(baseline, current)
	fmt.Printf("diff %s -> %s: %d changes\n", report.Baseline, report.Current, len(report.Changes))
	for _, c := range report.Changes {
		fmt.Printf("  %-16s %-12s %s\n", c.Kind, c.EntityID, c.Details)
	}
	return nil
}

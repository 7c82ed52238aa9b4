package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/adapter/docker"
	"github.com/netmapper/netmapper/pkg/adapter/portainer"
	"github.com/netmapper/netmapper/pkg/adapter/proxmox"
	"github.com/netmapper/netmapper/pkg/adapter/router"
	"github.com/netmapper/netmapper/pkg/adapter/unraid"
	"github.com/netmapper/netmapper/pkg/conflict"
	"github.com/netmapper/netmapper/pkg/config"
	"github.com/netmapper/netmapper/pkg/correlate"
	"github.com/netmapper/netmapper/pkg/credentials"
	"github.com/netmapper/netmapper/pkg/entity"
	"github.com/netmapper/netmapper/pkg/errlog"
	"github.com/netmapper/netmapper/pkg/orchestrator"
	"github.com/netmapper/netmapper/pkg/probe"
	"github.com/netmapper/netmapper/pkg/sweep"
	"github.com/netmapper/netmapper/pkg/topology"
)

type runFlags struct {
	gatewayIP string
	quiet     bool
}

// NewCmdRun returns the "run" subcommand: load config, execute the full
// discovery pipeline, persist a snapshot.
func NewCmdRun() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep, probe, and reconstruct the network topology",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.gatewayIP, "gateway-ip", "", "LAN gateway IP the RouterAdapter activates against (defaults to the first host of the first configured subnet)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress the interactive phase spinner")
	return cmd
}

func runRun(cmd *cobra.Command, f runFlags) error {
	cfg, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	progress := newPhaseProgress(f.quiet)

	progress.start("sweeping subnets")
	swept, err := sweep.Sweep(cmd.Context(), cfg.SubnetList, sweep.Options{
		Timeout:     cfg.Timeouts.Ping(),
		Concurrency: cfg.Concurrency,
	})
	if err != nil {
		progress.fail()
		return errors.Wrap(err, "sweeping subnets")
	}
	progress.stop(fmt.Sprintf("%d hosts reachable", len(swept)))

	progress.start("probing ports")
	seed := probeAll(cmd.Context(), swept, cfg.Timeouts)
	progress.stop(fmt.Sprintf("%d entities fingerprinted", len(seed)))

	config.ApplyHints(seed, cfg.Hints)

	gatewayIP := f.gatewayIP
	if gatewayIP == "" {
		gatewayIP = deriveGatewayIP(cfg.SubnetList)
	}

	reg := defaultRegistry(gatewayIP)
	actx := &adapter.Context{
		Context:     cmd.Context(),
		HTTPClient:  probe.NewHTTPClient(cfg.Timeouts.HTTP()),
		Credentials: credentials.New(),
		SweptIPs:    swept,
	}

	progress.start("expanding adapters")
	universe := orchestrator.Run(cmd.Context(), seed, orchestrator.Options{Registry: reg, SweptIPs: swept}, actx)
	progress.stop(fmt.Sprintf("%d entities after adapter expansion", len(universe)))

	progress.start("correlating")
	correlated := correlate.Run(universe, swept)

	progress.start("detecting conflicts")
	final, conflicts := conflict.Detect(correlated)
	progress.stop(fmt.Sprintf("%d conflicts", len(conflicts)))

	now := time.Now()
	scanID := topology.NewScanID(now)
	report := topology.Assemble(scanID, cfg.SubnetList, final, conflicts, now)

	hist := &topology.History{Dir: cfg.History.Dir, Retention: cfg.History.Retention}
	if err := hist.Save(report); err != nil {
		return errors.Wrap(err, "persisting topology snapshot")
	}

	fmt.Printf("scan %s complete: %d entities, %d conflicts\n", report.ScanID, len(report.Entities), len(report.Conflicts))
	for _, c := range report.Conflicts {
		fmt.Printf("  conflict[%s] ip=%s: %s\n", c.Kind, c.IP, c.Description)
	}

	return nil
}

// probeAll fingerprints every swept IP concurrently, one goroutine per
// host bounded by a semaphore sized to the sweep result itself (there is
// no reason to throttle below that: each host's own probe already bounds
// its internal per-port concurrency), and returns one Unknown-typed
// entity per reachable host, the Port Prober's contract.
func probeAll(ctx context.Context, swept map[string]struct{}, timeouts config.Timeouts) []*entity.Entity {
	opts := probe.Options{
		PerPortTimeout: timeouts.ProbePerPort(),
		HTTPTimeout:    timeouts.HTTP(),
	}

	width := int64(len(swept))
	if width <= 0 {
		width = 1
	}
	sem := semaphore.NewWeighted(width)

	entities := make([]*entity.Entity, len(swept))
	g, gctx := errgroup.WithContext(ctx)

	i := 0
	for ip := range swept {
		idx := i
		i++
		ip := ip
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			entities[idx] = probe.Probe(gctx, ip, opts)
			return nil
		})
	}
	_ = g.Wait()

	return entities
}

func defaultRegistry(gatewayIP string) *adapter.Registry {
	reg := adapter.NewRegistry()
	reg.Register(router.New(gatewayIP))
	reg.Register(proxmox.New())
	reg.Register(docker.New())
	reg.Register(portainer.New())
	reg.Register(unraid.New())
	return reg
}

// deriveGatewayIP guesses the LAN gateway as the first host address of the
// first configured subnet (almost always ".1" in a homelab), used only
// when the operator does not pass --gateway-ip explicitly.
func deriveGatewayIP(subnets []string) string {
	if len(subnets) == 0 {
		return ""
	}
	hosts, err := sweep.ExpandCIDR(subnets[0], 1)
	if err != nil || len(hosts) == 0 {
		return ""
	}
	return hosts[0]
}

// Package sweep implements the Host Sweeper (L0): expanding configured
// CIDRs into candidate IPv4 addresses and probing each for reachability
// with bounded concurrency.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxHostsPerSubnet bounds per-subnet enumeration so a wide prefix
// (e.g. a mistakenly entered /8) doesn't generate millions of targets.
const DefaultMaxHostsPerSubnet = 254

// DefaultConcurrency is the global width of the reachability-probe
// semaphore.
const DefaultConcurrency = 50

// FallbackPorts is the small, fast port set dialed to establish
// reachability when no privileged ICMP socket is available. A reply of any
// kind (accepted or refused) faster than the timeout is treated the same as
// an ICMP echo reply would be: evidence that something is listening on the
// IP.
var FallbackPorts = []int{443, 80, 22}

// Options configures a sweep.
type Options struct {
	// Timeout bounds each per-host reachability attempt.
	Timeout time.Duration
	// Concurrency bounds the number of hosts probed in parallel. Zero uses
	// DefaultConcurrency.
	Concurrency int64
	// MaxHostsPerSubnet caps enumeration of a single CIDR. Zero uses
	// DefaultMaxHostsPerSubnet.
	MaxHostsPerSubnet int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 500 * time.Millisecond
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxHostsPerSubnet <= 0 {
		o.MaxHostsPerSubnet = DefaultMaxHostsPerSubnet
	}
	return o
}

// ExpandCIDR returns the host addresses within cidr, excluding the network
// and broadcast address, capped at maxHosts. A /32 yields exactly its one
// address. Order is stable (ascending).
func ExpandCIDR(cidr string, maxHosts int) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid subnet %q", cidr)
	}

	base := ipnet.IP.Mask(ipnet.Mask).To4()
	if base == nil {
		return nil, pkgerrors.Errorf("subnet %q is not an IPv4 network", cidr)
	}

	ones, bits := ipnet.Mask.Size()
	hostBits := bits - ones
	total := 1
	if hostBits > 0 {
		total = 1 << uint(hostBits)
	}

	start, end := 0, total
	if total > 2 {
		start, end = 1, total-1
	}

	if maxHosts > 0 && maxHosts < end-start {
		end = start + maxHosts
		logrus.WithField("subnet", cidr).WithField("limit", maxHosts).
			Debug("applying max hosts per subnet limit")
	}

	ips := make([]string, 0, end-start)
	for offset := start; offset < end; offset++ {
		ip := make(net.IP, len(base))
		copy(ip, base)
		addOffset(ip, offset)
		ips = append(ips, ip.String())
	}
	return ips, nil
}

func addOffset(ip net.IP, offset int) {
	carry := offset
	for i := len(ip) - 1; i >= 0 && carry > 0; i-- {
		sum := int(ip[i]) + (carry & 0xFF)
		ip[i] = byte(sum & 0xFF)
		carry >>= 8
		carry += sum >> 8
	}
}

// Sweep expands subnets and returns the set of addresses that answered a
// reachability probe within opts.Timeout, bounded by opts.Concurrency
// concurrent attempts. CIDR parse failures fail fast with a descriptive
// error; probe failures are silent.
func Sweep(ctx context.Context, subnets []string, opts Options) (map[string]struct{}, error) {
	opts = opts.withDefaults()

	var targets []string
	for _, cidr := range subnets {
		ips, err := ExpandCIDR(cidr, opts.MaxHostsPerSubnet)
		if err != nil {
			return nil, err
		}
		targets = append(targets, ips...)
	}

	reachable := make(map[string]struct{})

	sem := semaphore.NewWeighted(opts.Concurrency)
	results := make(chan string, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for _, ip := range targets {
		ip := ip
		if err := sem.Acquire(gctx, 1); err != nil {
			// Context was cancelled while waiting for a slot; stop
			// launching new probes but let in-flight ones finish below.
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if probeReachable(gctx, ip, opts.Timeout) {
				results <- ip
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	for ip := range results {
		reachable[ip] = struct{}{}
	}

	if err := ctx.Err(); err != nil {
		return reachable, err
	}
	return reachable, nil
}

// probeReachable attempts a fast TCP dial against FallbackPorts, returning
// true on the first port that connects or is actively refused (both
// indicate a live IP stack at the far end). Never returns an error: probe
// failures are not fatal.
func probeReachable(ctx context.Context, ip string, timeout time.Duration) bool {
	dialer := &net.Dialer{Timeout: timeout}
	for _, port := range FallbackPorts {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		address := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		cancel()
		if err == nil {
			conn.Close()
			return true
		}
		if isRefused(err) {
			return true
		}
	}
	return false
}

// isRefused treats any non-timeout dial error as evidence of a live host:
// a refused connection, an RST, or "no route" all mean something answered
// faster than waiting out the full timeout would have. Only a genuine
// timeout (nothing answered at all) is treated as unreachable. This is the
// best-effort ICMP substitute described on FallbackPorts.
func isRefused(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}

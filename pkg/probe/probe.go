// Package probe implements the Port Prober (L1): for each reachable host,
// attempt a TCP connect against the canonical fingerprint port set and, if a
// web port answered, fetch its root HTTP(S) response headers and any TLS
// certificate.
package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sethgrid/pester"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/netmapper/netmapper/pkg/entity"
)

// FingerprintPorts is the canonical port set probed on every reachable host.
var FingerprintPorts = []int{22, 80, 443, 2375, 2376, 3000, 5000, 8006, 8080, 9000, 9010, 9443}

// DefaultPerPortTimeout is the per-connection-attempt timeout.
const DefaultPerPortTimeout = 1000 * time.Millisecond

// DefaultConcurrency is the inner, per-host semaphore width across ports.
const DefaultConcurrency = 10

// Options configures a probe run.
type Options struct {
	PerPortTimeout time.Duration
	Concurrency    int64
	HTTPTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.PerPortTimeout <= 0 {
		o.PerPortTimeout = DefaultPerPortTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 3 * time.Second
	}
	return o
}

// NewHTTPClient returns a pester-backed client configured for probing: no
// retries (a probe failure is informative, not transient) and TLS
// verification disabled (homelab services are routinely self-signed, and
// detecting that is part of the job, not a reason to fail the request).
// Adapters share this same construction for their own HTTP calls, so there
// is exactly one HTTP client implementation across the codebase.
func NewHTTPClient(timeout time.Duration) *pester.Client {
	c := pester.New()
	c.Backoff = pester.LinearBackoff
	c.MaxRetries = 0
	c.Timeout = timeout
	c.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}
	return c
}

// Probe attempts a TCP connect to every port in FingerprintPorts for ip, and
// if 80 or 443 answered, one HTTP(S) GET of "/". It always returns a
// non-nil Entity (type Unknown, status Reachable): the caller already knows
// ip is reachable from the Host Sweeper, so an empty open-port set is a
// valid, if uninteresting, result. All individual port/HTTP failures are
// silent.
func Probe(ctx context.Context, ip string, opts Options) *entity.Entity {
	opts = opts.withDefaults()

	e := entity.New(ip, entity.TypeUnknown)
	e.IP = ip
	e.Status = entity.StatusReachable

	sem := semaphore.NewWeighted(opts.Concurrency)
	g, gctx := errgroup.WithContext(ctx)

	openPorts := make(chan int, len(FingerprintPorts))

	for _, port := range FingerprintPorts {
		port := port
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if dialOpen(gctx, ip, port, opts.PerPortTimeout) {
				openPorts <- port
			}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(openPorts)
	}()

	for port := range openPorts {
		e.OpenPorts[port] = struct{}{}
	}

	if e.HasPort(443) || e.HasPort(80) {
		fetchHTTP(ctx, e, opts)
	}

	return e
}

func dialOpen(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// fetchHTTP tries TLS first, then plaintext, fetching "/" and recording
// response headers and, for the TLS attempt, a certificate summary.
func fetchHTTP(ctx context.Context, e *entity.Entity, opts Options) {
	client := NewHTTPClient(opts.HTTPTimeout)

	if e.HasPort(443) {
		if cert := captureCertificate(ctx, e.IP, 443, opts.PerPortTimeout); cert != nil {
			e.Certificate = cert
		}
		if getHeaders(ctx, client, fmt.Sprintf("https://%s/", e.IP), e) {
			return
		}
	}
	if e.HasPort(80) {
		getHeaders(ctx, client, fmt.Sprintf("http://%s/", e.IP), e)
	}
}

func getHeaders(ctx context.Context, client *pester.Client, url string, e *entity.Entity) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		logrus.WithField("ip", e.IP).WithError(err).Debug("probe GET failed")
		return false
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		joined := ""
		for i, v := range values {
			if i > 0 {
				joined += ", "
			}
			joined += v
		}
		if existing, ok := e.HTTPHeaders[name]; ok {
			e.HTTPHeaders[name] = existing + ", " + joined
		} else {
			e.HTTPHeaders[name] = joined
		}
	}
	return true
}

func captureCertificate(ctx context.Context, ip string, port int, timeout time.Duration) *entity.Certificate {
	dialer := &net.Dialer{Timeout: timeout}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := tls.DialWithDialer(dialer.WithContext(dialCtx, nil), "tcp", net.JoinHostPort(ip, strconv.Itoa(port)), &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	if err != nil {
		return nil
	}
	defer conn.Close()

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	cert := state.PeerCertificates[0]
	sum := sha256.Sum256(cert.Raw)

	return &entity.Certificate{
		IsSelfSigned: cert.Issuer.String() == cert.Subject.String(),
		Issuer:       cert.Issuer.CommonName,
		Expiry:       cert.NotAfter.UTC().Format(time.RFC3339),
		Fingerprint:  hex.EncodeToString(sum[:]),
	}
}

package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/netmapper/netmapper/pkg/entity"
)

func TestDialOpenOnListeningPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	if !dialOpen(context.Background(), "127.0.0.1", port, 500*time.Millisecond) {
		t.Error("dialOpen = false for a listening port, want true")
	}
}

func TestDialOpenOnClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	if dialOpen(context.Background(), "127.0.0.1", port, 500*time.Millisecond) {
		t.Error("dialOpen = true for a closed port, want false")
	}
}

func TestProbeCapturesHTTPHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "probe-test")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	// Exercise the HTTP-fetch path directly against the known-open port,
	// bypassing the fixed FingerprintPorts set (the httptest server binds
	// an ephemeral port, not literally 80).
	e := entity.New(host, entity.TypeUnknown)
	e.IP = host
	e.OpenPorts[port] = struct{}{}

	client := NewHTTPClient(2 * time.Second)
	url := "http://" + srv.Listener.Addr().String() + "/"
	if !getHeaders(context.Background(), client, url, e) {
		t.Fatal("getHeaders returned false for a reachable server")
	}
	if e.HTTPHeaders["Server"] != "probe-test" {
		t.Errorf("HTTPHeaders[Server] = %q, want %q", e.HTTPHeaders["Server"], "probe-test")
	}
}

func TestProbeUnreachableHostHasNoOpenPorts(t *testing.T) {
	opts := Options{PerPortTimeout: 50 * time.Millisecond, Concurrency: 4, HTTPTimeout: 50 * time.Millisecond}
	// TEST-NET-1, reserved for documentation: never routable.
	e := Probe(context.Background(), "192.0.2.1", opts)
	if len(e.OpenPorts) != 0 {
		t.Errorf("OpenPorts = %v, want empty for an unreachable test-net address", e.OpenPorts)
	}
}

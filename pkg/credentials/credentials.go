// Package credentials holds the opaque, read-mostly credential store that
// platform adapters consult to authenticate against Proxmox/Docker/
// Portainer/Unraid APIs, plus the "cluster already scanned" bookkeeping
// ProxmoxAdapter needs to make repeated cluster entry points idempotent.
package credentials

import "sync"

// Key identifies one credential: a (service, key) pair, e.g.
// ("proxmox", "api_token") or ("portainer", "password").
type Key struct {
	Service string
	Key     string
}

// Store is a concurrency-safe, read-mostly (service,key)->string lookup.
// Reads happen from many concurrently-running adapters; writes are rare
// (initial load, and the scanned-cluster flags below), so a single
// sync.RWMutex is sufficient: the store is read-mostly, and writes must
// stay safe for concurrent readers.
type Store struct {
	mu       sync.RWMutex
	values   map[Key]string
	scanned  map[string]bool // cluster key -> already processed this run
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		values:  make(map[Key]string),
		scanned: make(map[string]bool),
	}
}

// NewFromMap returns a Store pre-populated from values, keyed by
// (service, key).
func NewFromMap(values map[Key]string) *Store {
	s := New()
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set records a credential. Safe to call concurrently with Get.
func (s *Store) Set(service, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[Key{service, key}] = value
}

// Get returns the credential for (service, key) and whether it was present.
func (s *Store) Get(service, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[Key{service, key}]
	return v, ok
}

// MarkClusterScanned records that a Proxmox cluster (identified by the key
// the caller passes; ProxmoxAdapter uses the cluster id) has been fully processed in this run, so subsequent entry
// points at other member nodes skip re-enumerating it
// across a cluster's member nodes.
func (s *Store) MarkClusterScanned(clusterName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanned[clusterName] = true
}

// ClusterScanned reports whether MarkClusterScanned has already been called
// for clusterName in this run.
func (s *Store) ClusterScanned(clusterName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanned[clusterName]
}

package router

import (
	"maps"
	"slices"
)

// Snapshot is an immutable host to Router mapping. Readers obtain it once
// per request and may keep it for as long as they need.
type Snapshot struct {
	routers map[string]*Router
}

// NewSnapshot builds a snapshot from a host to Router map. The map is owned
// by the snapshot afterwards.
func NewSnapshot(routers map[string]*Router) *Snapshot {
	if routers == nil {
		routers = make(map[string]*Router)
	}

	return &Snapshot{routers: routers}
}

// Router returns the router registered for host.
func (s *Snapshot) Router(host string) (*Router, bool) {
	r, ok := s.routers[host]

	return r, ok
}

// Default returns the DefaultHost router.
func (s *Snapshot) Default() (*Router, bool) {
	return s.Router(DefaultHost)
}

// Len returns the number of hosts, DefaultHost included.
func (s *Snapshot) Len() int {
	return len(s.routers)
}

// Hosts returns the registered hosts in sorted order.
func (s *Snapshot) Hosts() []string {
	return slices.Sorted(maps.Keys(s.routers))
}

// routerMap returns a shallow copy of the host map. Routers stay shared
// until the caller replaces them.
func (s *Snapshot) routerMap() map[string]*Router {
	return maps.Clone(s.routers)
}

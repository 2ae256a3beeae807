// Package proxy routes HTTP requests against the published route snapshot
// and forwards them to the selected backend service.
package proxy

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/kube-ingress-proxy/internal/router"
)

// maxHostFallback bounds the parent-domain walk of a request host.
const maxHostFallback = 100

var (
	// ErrInvalidHeader is returned when the request has no usable Host header.
	ErrInvalidHeader = errors.New("invalid host header")

	// ErrNotFound is returned when no route and no default backend match.
	ErrNotFound = errors.New("no route matched")
)

// SnapshotSource provides the route snapshot for a request.
type SnapshotSource interface {
	Snapshot() *router.Snapshot
}

// RequestContext carries the routing decision of a single request.
type RequestContext struct {
	Service *router.RouterNode
	SNI     string
}

// Peer is the upstream selected for a request.
type Peer struct {
	Backend string
	Port    int32
	TLS     bool
	SNI     string
}

// Router resolves requests to upstream peers.
type Router struct {
	source SnapshotSource
}

// NewRouter creates a Router reading snapshots from source.
func NewRouter(source SnapshotSource) *Router {
	return &Router{source: source}
}

// RequestFilter fills rc with the service and SNI for r. The snapshot is
// read once, so the whole lookup sees a single consistent route table.
func (rt *Router) RequestFilter(r *http.Request, rc *RequestContext) error {
	host := r.Host
	if host == "" || !isASCII(host) {
		return ErrInvalidHeader
	}

	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}

	path := r.URL.Path
	snapshot := rt.source.Snapshot()

	for attempt := range maxHostFallback {
		if attempt > 0 {
			_, parent, found := strings.Cut(host, ".")
			if !found {
				break
			}

			host = parent
		}

		hostRouter, ok := snapshot.Router(host)
		if !ok {
			continue
		}

		rc.SNI = hostRouter.SNI

		if node, found := hostRouter.Lookup(path); found {
			rc.Service = node
		}

		break
	}

	if rc.Service == nil {
		if def, ok := snapshot.Default(); ok {
			rc.SNI = def.SNI
			rc.Service = def.DefaultBackend
		}
	}

	if rc.Service == nil {
		return ErrNotFound
	}

	return nil
}

// UpstreamPeer returns the upstream for a request already passed through
// RequestFilter.
func (rt *Router) UpstreamPeer(rc *RequestContext) (*Peer, error) {
	if rc.Service == nil {
		return nil, ErrNotFound
	}

	return &Peer{
		Backend: rc.Service.Backend,
		Port:    rc.Service.Port,
		TLS:     rc.SNI != "",
		SNI:     rc.SNI,
	}, nil
}

func isASCII(s string) bool {
	for idx := range len(s) {
		if s[idx] >= 0x80 {
			return false
		}
	}

	return true
}

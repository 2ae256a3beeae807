// Package router holds the routing snapshot consumed by the proxy and the
// table that folds ingress events into successive snapshots.
package router

import (
	"log/slog"
	"maps"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/pathtree"
)

// DefaultHost is the snapshot key of the router used when no host matches.
const DefaultHost = "*"

// RouterNode is a resolved upstream service. Nodes are immutable once
// created and shared between snapshots.
//
//nolint:revive // RouterNode reads better than Node at call sites outside the package
type RouterNode struct {
	Backend string
	Port    int32
}

// NewRouterNode creates a node for the given backend service and port.
func NewRouterNode(backend string, port int32) *RouterNode {
	return &RouterNode{Backend: backend, Port: port}
}

// Router holds the routes of a single host.
type Router struct {
	Host string

	// SNI is the TLS secret name used for upstream connections. Empty
	// disables TLS towards the backend.
	SNI string

	// DefaultBackend is only set on the DefaultHost router.
	DefaultBackend *RouterNode

	Exact  map[string]*RouterNode
	Prefix *pathtree.Tree[*RouterNode]
}

// NewRouter creates an empty router for host.
func NewRouter(host string) *Router {
	return &Router{
		Host:   host,
		Exact:  make(map[string]*RouterNode),
		Prefix: pathtree.New[*RouterNode](),
	}
}

// NewDefaultRouter creates the DefaultHost router for a default backend rule.
func NewDefaultRouter(rule *ingress.Rule) *Router {
	r := NewRouter(DefaultHost)
	r.DefaultBackend = NewRouterNode(rule.Backend, rule.Port)

	return r
}

// Clone copies the router so it can be modified without affecting
// snapshots that still reference the original. Nodes are shared.
func (r *Router) Clone() *Router {
	return &Router{
		Host:           r.Host,
		SNI:            r.SNI,
		DefaultBackend: r.DefaultBackend,
		Exact:          maps.Clone(r.Exact),
		Prefix:         r.Prefix.Clone(),
	}
}

// Lookup resolves path against the exact map first, then the prefix tree.
func (r *Router) Lookup(path string) (*RouterNode, bool) {
	if node, ok := r.Exact[path]; ok {
		return node, true
	}

	return r.Prefix.Find(path)
}

// UpdateFromRules installs rules into the router. Rules with a path type
// other than Prefix or Exact are skipped.
func (r *Router) UpdateFromRules(rules []ingress.Rule) error {
	logger := slog.Default().With("component", "router", "host", r.Host)

	if r.Exact == nil {
		r.Exact = make(map[string]*RouterNode)
	}

	if r.Prefix == nil {
		r.Prefix = pathtree.New[*RouterNode]()
	}

	for _, rule := range rules {
		switch rule.Kind {
		case ingress.PathTypePrefix:
			logger.Debug("insert prefix rule", "path", rule.Path, "service", rule.Backend, "port", rule.Port)

			if err := r.Prefix.Insert(rule.Path, NewRouterNode(rule.Backend, rule.Port)); err != nil {
				return errors.Wrapf(err, "failed to insert prefix rule %q for host %q", rule.Path, r.Host)
			}
		case ingress.PathTypeExact:
			logger.Debug("insert exact rule", "path", rule.Path, "service", rule.Backend, "port", rule.Port)

			r.Exact[rule.Path] = NewRouterNode(rule.Backend, rule.Port)
		default:
			logger.Warn("unsupported path type, rule skipped", "path", rule.Path, "pathType", rule.Kind.String())
		}
	}

	return nil
}

package ingress

import (
	"fmt"
	"strings"
)

// DefaultServicePort is used when a backend service reference carries no port number.
const DefaultServicePort int32 = 80

// PathType is the normalized ingress path match type.
type PathType int

// Path types understood by the router. Only Prefix and Exact produce routes.
const (
	PathTypeUnknown PathType = iota
	PathTypePrefix
	PathTypeExact
	PathTypeImplementationSpecific
)

// ParsePathType maps an ingress pathType case-insensitively.
func ParsePathType(s string) PathType {
	switch strings.ToLower(s) {
	case "prefix":
		return PathTypePrefix
	case "exact":
		return PathTypeExact
	case "implementationspecific":
		return PathTypeImplementationSpecific
	default:
		return PathTypeUnknown
	}
}

func (p PathType) String() string {
	switch p {
	case PathTypePrefix:
		return "Prefix"
	case PathTypeExact:
		return "Exact"
	case PathTypeImplementationSpecific:
		return "ImplementationSpecific"
	case PathTypeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("PathType(%d)", int(p))
	}
}

// Rule is one path of an ingress rule resolved to its backend service.
type Rule struct {
	Path    string
	Kind    PathType
	Backend string
	Port    int32
}

// HostBlock groups the rules declared for a single host. An empty Host
// applies to any host.
type HostBlock struct {
	Host  string
	Rules []Rule
}

// SNIMap maps a host to the TLS secret name declared for it.
type SNIMap map[string]string

// EventKind tells the route table how to apply an Event.
type EventKind int

// Event kinds. Init and Update are applied the same way; Init only marks a
// full replay of every known ingress.
const (
	EventUnknown EventKind = 0
	EventInit    EventKind = 1
	EventUpdate  EventKind = 2
	EventDelete  EventKind = 3
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	case EventUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Contribution is what a single ingress object adds to the route table.
type Contribution struct {
	DefaultBackend *Rule
	Hosts          []HostBlock
	SNI            SNIMap
}

// IsEmpty reports whether the contribution carries nothing.
func (c *Contribution) IsEmpty() bool {
	return c.DefaultBackend == nil && len(c.Hosts) == 0 && len(c.SNI) == 0
}

// Event is a normalized ingress change ready to be applied to the route table.
type Event struct {
	Kind EventKind
	Contribution
}

// Summary renders the event on one line for logging.
func (e *Event) Summary() string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "kind=%s", e.Kind)

	if e.DefaultBackend != nil {
		fmt.Fprintf(&builder, " default=%s:%d", e.DefaultBackend.Backend, e.DefaultBackend.Port)
	}

	hosts := make([]string, 0, len(e.Hosts))
	for _, block := range e.Hosts {
		hosts = append(hosts, fmt.Sprintf("%q(%d)", block.Host, len(block.Rules)))
	}

	fmt.Fprintf(&builder, " hosts=[%s] sni=%d", strings.Join(hosts, " "), len(e.SNI))

	return builder.String()
}

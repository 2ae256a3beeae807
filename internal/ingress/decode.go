package ingress

import (
	"log/slog"

	"github.com/samber/lo"
	networkingv1 "k8s.io/api/networking/v1"
)

// DefaultIngressClass is the ingress class honored by the proxy.
const DefaultIngressClass = "pingora"

// RawEventType is the event type reported by the cluster watch.
type RawEventType string

// Raw watch event types.
const (
	RawApplied   RawEventType = "Applied"
	RawDeleted   RawEventType = "Deleted"
	RawRestarted RawEventType = "Restarted"
)

// RawEvent is a single event from the cluster watch. Applied and Deleted
// carry one object, Restarted carries the full list.
type RawEvent struct {
	Type    RawEventType
	Objects []*networkingv1.Ingress
}

// Decoder converts ingress objects into route table contributions.
type Decoder struct {
	// Class is the ingress class accepted by the decoder. Ingresses with a
	// different, non-empty ingressClassName contribute nothing.
	Class string

	logger *slog.Logger
}

// NewDecoder creates a Decoder for the given ingress class. An empty class
// falls back to DefaultIngressClass.
func NewDecoder(class string) *Decoder {
	if class == "" {
		class = DefaultIngressClass
	}

	return &Decoder{
		Class:  class,
		logger: slog.Default().With("component", "ingress-decoder"),
	}
}

// DecodeEvent normalizes a raw watch event.
func (d *Decoder) DecodeEvent(raw RawEvent) Event {
	switch raw.Type {
	case RawApplied:
		return Event{Kind: EventUpdate, Contribution: d.decodeFirst(raw.Objects)}
	case RawDeleted:
		return Event{Kind: EventDelete, Contribution: d.decodeFirst(raw.Objects)}
	case RawRestarted:
		return Event{Kind: EventInit, Contribution: d.decodeAll(raw.Objects)}
	default:
		d.logger.Warn("unknown raw ingress event type", "type", string(raw.Type))

		return Event{Kind: EventUnknown}
	}
}

func (d *Decoder) decodeFirst(objects []*networkingv1.Ingress) Contribution {
	if len(objects) == 0 {
		return Contribution{}
	}

	return d.Decode(objects[0])
}

func (d *Decoder) decodeAll(objects []*networkingv1.Ingress) Contribution {
	merged := Contribution{SNI: SNIMap{}}

	for _, obj := range objects {
		part := d.Decode(obj)

		if part.DefaultBackend != nil {
			merged.DefaultBackend = part.DefaultBackend
		}

		merged.Hosts = append(merged.Hosts, part.Hosts...)

		for host, secret := range part.SNI {
			merged.SNI[host] = secret
		}
	}

	return merged
}

// Decode converts a single ingress object. Paths without a service backend
// and hosts left without paths are dropped.
func (d *Decoder) Decode(obj *networkingv1.Ingress) Contribution {
	contribution := Contribution{SNI: SNIMap{}}

	if obj == nil {
		return contribution
	}

	spec := &obj.Spec

	if spec.IngressClassName != nil && *spec.IngressClassName != d.Class {
		d.logger.Debug("skipping ingress of another class",
			"ingress", obj.Namespace+"/"+obj.Name,
			"class", *spec.IngressClassName,
		)

		return contribution
	}

	if spec.DefaultBackend != nil {
		if rule, ok := serviceRule(spec.DefaultBackend, "", PathTypePrefix); ok {
			contribution.DefaultBackend = &rule
		}
	}

	for _, ingressRule := range spec.Rules {
		block := HostBlock{Host: ingressRule.Host}

		if ingressRule.HTTP != nil {
			block.Rules = lo.FilterMap(ingressRule.HTTP.Paths, func(path networkingv1.HTTPIngressPath, _ int) (Rule, bool) {
				kind := PathTypeUnknown
				if path.PathType != nil {
					kind = ParsePathType(string(*path.PathType))
				}

				return serviceRule(&path.Backend, path.Path, kind)
			})
		}

		if len(block.Rules) == 0 {
			continue
		}

		contribution.Hosts = append(contribution.Hosts, block)
	}

	for _, tls := range spec.TLS {
		if tls.SecretName == "" {
			continue
		}

		for _, host := range tls.Hosts {
			contribution.SNI[host] = tls.SecretName
		}
	}

	return contribution
}

// serviceRule resolves a backend to a Rule. Backends without a service
// reference (resource backends) yield false.
func serviceRule(backend *networkingv1.IngressBackend, path string, kind PathType) (Rule, bool) {
	if backend.Service == nil {
		return Rule{}, false
	}

	port := backend.Service.Port.Number
	if port == 0 {
		port = DefaultServicePort
	}

	return Rule{
		Path:    path,
		Kind:    kind,
		Backend: backend.Service.Name,
		Port:    port,
	}, true
}

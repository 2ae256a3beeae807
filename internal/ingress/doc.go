// Package ingress normalizes Kubernetes networking/v1 Ingress objects into
// route table contributions.
//
// # Overview
//
// A Decoder turns each ingress into a Contribution made of:
//
//   - an optional default backend (spec.defaultBackend.service)
//   - one HostBlock per rule host, holding the rule's paths in order
//   - an SNI map of TLS host to secret name
//
// Ingresses whose ingressClassName is set to anything other than the
// decoder's class contribute nothing.
//
// # Path Types
//
// The pathType field is matched case-insensitively:
//
//   - Prefix: stored in the host's prefix tree
//   - Exact: stored in the host's exact-match map
//   - ImplementationSpecific and unknown values are kept in the model but
//     skipped by the router
//
// Paths whose backend is not a service are dropped, as are hosts left with
// no paths. A service without a port number defaults to port 80.
//
// # Events
//
// Raw watch events map to route table events:
//
//	Applied   -> EventUpdate
//	Deleted   -> EventDelete
//	Restarted -> EventInit (all objects merged, last default backend wins)
package ingress

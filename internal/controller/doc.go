// Package controller connects the Kubernetes Ingress watch to the route
// table and runs the proxy process.
//
// The package provides three building blocks:
//
//   - IngressWatcher: lists and watches networking/v1 Ingresses through a
//     controller-runtime client. Each (re)list is emitted as one Restarted
//     event with the full set, followed by Applied and Deleted events from
//     the watch. Failures are retried with exponential backoff.
//
//   - Adapter: decodes raw watch events into ingress events and pushes them
//     onto a bounded channel, blocking while the applier is behind.
//
//   - Pipeline: runs the watcher, the adapter and the route table applier
//     together as one manager Runnable.
//
// # Architecture
//
//	watch stream ──> IngressWatcher ──> Adapter ──(cap 8)──> router.Table
//	                                                              │
//	                                                     atomic snapshot
//	                                                              │
//	HTTP request ──> proxy.Handler ──> proxy.Router <─────────────┘
//
// # Configuration
//
// Run is configured via the Config struct which accepts settings from CLI
// flags or environment variables (KIP_* prefix). The listen port and log
// level can further come from the proxy's own Pod.
package controller

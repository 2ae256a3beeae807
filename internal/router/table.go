package router

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
)

// Apply status labels.
const (
	applyStatusSuccess  = "success"
	applyStatusRejected = "rejected"
	applyStatusIgnored  = "ignored"
)

// Table owns the published Snapshot and applies ingress events to it.
//
// Apply is meant to be called from a single goroutine. Readers call
// Snapshot concurrently and always get a complete snapshot: every event is
// applied to a copy which is then published with an atomic swap.
type Table struct {
	current atomic.Pointer[Snapshot]
	ready   atomic.Bool

	metrics metrics.Collector
	logger  *slog.Logger
}

// NewTable creates a table holding an empty snapshot.
func NewTable(m metrics.Collector) *Table {
	if m == nil {
		m = metrics.NewNoopCollector()
	}

	t := &Table{
		metrics: m,
		logger:  slog.Default().With("component", "route-table"),
	}
	t.current.Store(NewSnapshot(nil))

	return t
}

// Snapshot returns the currently published snapshot. It is never nil.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

// Ready reports whether at least one event has been applied.
func (t *Table) Ready() bool {
	return t.ready.Load()
}

// Run applies events from the channel until it is closed or ctx is done.
// Failed events are logged and skipped so the loop keeps running.
func (t *Table) Run(ctx context.Context, events <-chan ingress.Event) error {
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("route table applier stopped", "reason", ctx.Err())

			return nil
		case event, ok := <-events:
			if !ok {
				t.logger.Info("ingress event channel closed")

				return nil
			}

			t.logger.Info("watch ingress event", "event", event.Summary())

			if err := t.Apply(ctx, event); err != nil {
				t.logger.Error("ingress event rejected, keeping previous routes",
					"kind", event.Kind.String(),
					"error", err,
				)
			}
		}
	}
}

// Apply folds event into a new snapshot and publishes it. When the event
// cannot be applied the previous snapshot stays published and the error is
// returned.
func (t *Table) Apply(ctx context.Context, event ingress.Event) error {
	startTime := time.Now()

	next, err := t.build(t.Snapshot(), event)

	switch {
	case err != nil:
		t.metrics.RecordEventApplied(ctx, event.Kind.String(), applyStatusRejected, time.Since(startTime))

		return err
	case next == nil:
		t.metrics.RecordEventApplied(ctx, event.Kind.String(), applyStatusIgnored, time.Since(startTime))

		return nil
	}

	t.current.Store(next)
	t.ready.Store(true)

	t.metrics.RecordEventApplied(ctx, event.Kind.String(), applyStatusSuccess, time.Since(startTime))
	t.metrics.RecordSnapshotHosts(ctx, next.Len())

	return nil
}

// build returns the snapshot resulting from event, or nil when the event
// kind is not handled.
func (t *Table) build(prev *Snapshot, event ingress.Event) (*Snapshot, error) {
	edit := newSnapshotEdit(prev)

	switch event.Kind {
	case ingress.EventInit, ingress.EventUpdate:
		if event.DefaultBackend != nil {
			edit.put(NewDefaultRouter(event.DefaultBackend))
		}

		for _, block := range event.Hosts {
			t.logger.Debug("update host", "host", block.Host)

			if err := edit.writable(block.Host).UpdateFromRules(block.Rules); err != nil {
				return nil, errors.Wrapf(err, "failed to apply %s event", event.Kind)
			}
		}
	case ingress.EventDelete:
		if event.DefaultBackend != nil {
			t.logger.Debug("delete default backend", "backend", event.DefaultBackend.Backend)
			edit.remove(DefaultHost)
		}

		for _, block := range event.Hosts {
			t.logger.Debug("delete host", "host", block.Host)
			edit.remove(block.Host)
		}
	default:
		t.logger.Info("unknown ingress event type", "kind", event.Kind.String())

		return nil, nil
	}

	// SNI is applied for every kind, after hosts were added or removed.
	for host, secret := range event.SNI {
		if edit.has(host) {
			edit.writable(host).SNI = secret
		}
	}

	return NewSnapshot(edit.routers), nil
}

// snapshotEdit tracks a copy-on-write modification of a snapshot. Routers
// from the previous snapshot are cloned the first time they are written.
type snapshotEdit struct {
	routers map[string]*Router
	owned   map[string]bool
}

func newSnapshotEdit(prev *Snapshot) *snapshotEdit {
	routers := prev.routerMap()
	if routers == nil {
		routers = make(map[string]*Router)
	}

	return &snapshotEdit{
		routers: routers,
		owned:   make(map[string]bool),
	}
}

func (e *snapshotEdit) has(host string) bool {
	_, ok := e.routers[host]

	return ok
}

func (e *snapshotEdit) put(r *Router) {
	e.routers[r.Host] = r
	e.owned[r.Host] = true
}

func (e *snapshotEdit) remove(host string) {
	delete(e.routers, host)
	delete(e.owned, host)
}

// writable returns a router for host that is safe to mutate, creating an
// empty one when the host is unknown.
func (e *snapshotEdit) writable(host string) *Router {
	if e.owned[host] {
		return e.routers[host]
	}

	r, ok := e.routers[host]
	if ok {
		r = r.Clone()
	} else {
		r = NewRouter(host)
	}

	e.put(r)

	return r
}

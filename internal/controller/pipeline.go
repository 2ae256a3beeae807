package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
	"github.com/lexfrei/kube-ingress-proxy/internal/router"
)

// EventBufferSize is the capacity of the channel between the adapter and
// the route table applier.
const EventBufferSize = 8

const dropReasonShutdown = "shutdown"

// Adapter decodes raw watch events into ingress events.
type Adapter struct {
	decoder *ingress.Decoder
	metrics metrics.Collector
	logger  *slog.Logger
}

// NewAdapter creates an Adapter using decoder.
func NewAdapter(decoder *ingress.Decoder, metricsCollector metrics.Collector) *Adapter {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &Adapter{
		decoder: decoder,
		metrics: metricsCollector,
		logger:  slog.Default().With("component", "ingress-adapter"),
	}
}

// Run decodes events from in and sends them to out until in is closed or
// ctx is done. Sends block while out is full.
func (a *Adapter) Run(ctx context.Context, in <-chan ingress.RawEvent, out chan<- ingress.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-in:
			if !ok {
				return nil
			}

			event := a.decoder.DecodeEvent(raw)

			select {
			case out <- event:
			case <-ctx.Done():
				a.metrics.RecordEventDropped(ctx, dropReasonShutdown)
				a.logger.Warn("dropping ingress event on shutdown", "event", event.Summary())

				return nil
			}
		}
	}
}

// Pipeline runs the watcher, the adapter and the route table applier.
type Pipeline struct {
	watcher *IngressWatcher
	adapter *Adapter
	table   *router.Table
}

// NewPipeline wires watcher and adapter into table.
func NewPipeline(watcher *IngressWatcher, adapter *Adapter, table *router.Table) *Pipeline {
	return &Pipeline{
		watcher: watcher,
		adapter: adapter,
		table:   table,
	}
}

var (
	_ manager.Runnable               = (*Pipeline)(nil)
	_ manager.LeaderElectionRunnable = (*Pipeline)(nil)
)

// Start implements manager.Runnable and blocks until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	rawEvents := make(chan ingress.RawEvent)
	events := make(chan ingress.Event, EventBufferSize)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(rawEvents)

		return p.watcher.Run(groupCtx, rawEvents)
	})

	group.Go(func() error {
		defer close(events)

		return p.adapter.Run(groupCtx, rawEvents, events)
	})

	group.Go(func() error {
		return p.table.Run(groupCtx, events)
	})

	return errors.Wrap(group.Wait(), "ingress pipeline failed")
}

// NeedLeaderElection reports false: every replica keeps its own routes.
func (p *Pipeline) NeedLeaderElection() bool {
	return false
}

package controller

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

var errWatchClosed = errors.New("watch channel closed")

// IngressWatcher lists and watches Ingresses and emits raw events. Every
// (re)list is delivered as one Restarted event with the full set.
type IngressWatcher struct {
	client    client.WithWatch
	namespace string
	selectors []string
	metrics   metrics.Collector
	logger    *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewIngressWatcher creates a watcher over all namespaces with no label selector.
func NewIngressWatcher(c client.WithWatch, metricsCollector metrics.Collector) *IngressWatcher {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &IngressWatcher{
		client:         c,
		metrics:        metricsCollector,
		logger:         slog.Default().With("component", "ingress-watcher"),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// InNamespace restricts the watcher to a single namespace. Empty means all.
func (w *IngressWatcher) InNamespace(namespace string) *IngressWatcher {
	w.namespace = namespace

	return w
}

// AddLabelSelector requires key=value on watched Ingresses.
func (w *IngressWatcher) AddLabelSelector(key, value string) *IngressWatcher {
	w.selectors = append(w.selectors, key+"="+value)

	return w
}

// WithBackoff sets the relist backoff bounds.
func (w *IngressWatcher) WithBackoff(initial, maxInterval time.Duration) *IngressWatcher {
	w.initialBackoff = initial
	w.maxBackoff = maxInterval

	return w
}

// LabelSelector returns the comma-joined selector.
func (w *IngressWatcher) LabelSelector() string {
	return strings.Join(w.selectors, ",")
}

// Run emits raw events to out until ctx is cancelled. Failures never stop
// the loop; the watcher backs off and relists.
func (w *IngressWatcher) Run(ctx context.Context, out chan<- ingress.RawEvent) error {
	selector, err := labels.Parse(w.LabelSelector())
	if err != nil {
		return errors.Wrapf(err, "invalid label selector %q", w.LabelSelector())
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = w.initialBackoff
	retry.MaxInterval = w.maxBackoff

	w.logger.Info("starting ingress watch",
		"namespace", w.namespace,
		"labelSelector", selector.String(),
	)

	for {
		err := w.listAndWatch(ctx, selector, out, retry)
		if ctx.Err() != nil {
			return nil
		}

		errorType := metrics.ClassifyKubernetesError(err)
		w.metrics.RecordWatchError(ctx, errorType)
		w.metrics.RecordWatchRestart(ctx)

		delay := retry.NextBackOff()

		w.logger.Warn("ingress watch interrupted, relisting",
			"error", err,
			"errorType", errorType,
			"retryIn", delay,
		)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil
		case <-timer.C:
		}
	}
}

func (w *IngressWatcher) listAndWatch(
	ctx context.Context,
	selector labels.Selector,
	out chan<- ingress.RawEvent,
	retry backoff.BackOff,
) error {
	opts := []client.ListOption{client.MatchingLabelsSelector{Selector: selector}}
	if w.namespace != "" {
		opts = append(opts, client.InNamespace(w.namespace))
	}

	var list networkingv1.IngressList

	err := w.client.List(ctx, &list, opts...)
	if err != nil {
		return errors.Wrap(err, "failed to list ingresses")
	}

	watchOpts := append(opts, &client.ListOptions{
		Raw: &metav1.ListOptions{ResourceVersion: list.ResourceVersion},
	})

	watcher, err := w.client.Watch(ctx, &networkingv1.IngressList{}, watchOpts...)
	if err != nil {
		return errors.Wrap(err, "failed to watch ingresses")
	}
	defer watcher.Stop()

	retry.Reset()

	objects := make([]*networkingv1.Ingress, 0, len(list.Items))
	for idx := range list.Items {
		objects = append(objects, &list.Items[idx])
	}

	if !w.emit(ctx, out, ingress.RawEvent{Type: ingress.RawRestarted, Objects: objects}) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errWatchClosed
			}

			err := w.handle(ctx, selector, out, event)
			if err != nil {
				return err
			}
		}
	}
}

func (w *IngressWatcher) handle(
	ctx context.Context,
	selector labels.Selector,
	out chan<- ingress.RawEvent,
	event watch.Event,
) error {
	var rawType ingress.RawEventType

	switch event.Type {
	case watch.Added, watch.Modified:
		rawType = ingress.RawApplied
	case watch.Deleted:
		rawType = ingress.RawDeleted
	case watch.Bookmark:
		return nil
	case watch.Error:
		//nolint:wrapcheck // FromObject builds the error
		return apierrors.FromObject(event.Object)
	default:
		w.logger.Debug("ignoring watch event", "type", string(event.Type))

		return nil
	}

	obj, ok := event.Object.(*networkingv1.Ingress)
	if !ok {
		w.logger.Warn("unexpected object in ingress watch", "type", string(event.Type))

		return nil
	}

	if !selector.Matches(labels.Set(obj.GetLabels())) {
		return nil
	}

	w.emit(ctx, out, ingress.RawEvent{Type: rawType, Objects: []*networkingv1.Ingress{obj}})

	return nil
}

// emit reports false when ctx ended before the event was accepted.
func (w *IngressWatcher) emit(ctx context.Context, out chan<- ingress.RawEvent, raw ingress.RawEvent) bool {
	w.metrics.RecordWatchEvent(ctx, string(raw.Type))

	select {
	case out <- raw:
		return true
	case <-ctx.Done():
		return false
	}
}

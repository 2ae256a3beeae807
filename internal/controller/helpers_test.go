package controller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
)

const eventTimeout = 5 * time.Second

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	return scheme
}

func setupFakeClient(objs ...client.Object) client.WithWatch {
	return fake.NewClientBuilder().
		WithScheme(newScheme()).
		WithObjects(objs...).
		Build()
}

func setupInterceptedClient(funcs interceptor.Funcs, objs ...client.Object) client.WithWatch {
	return fake.NewClientBuilder().
		WithScheme(newScheme()).
		WithObjects(objs...).
		WithInterceptorFuncs(funcs).
		Build()
}

func labeledIngress(name, namespace string, labels map[string]string, host, backend string) *networkingv1.Ingress {
	prefix := networkingv1.PathTypePrefix

	return &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &prefix,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: backend,
									Port: networkingv1.ServiceBackendPort{Number: 80},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

func pingoraLabels() map[string]string {
	return map[string]string{"control-class": "pingora"}
}

func receiveRaw(t *testing.T, events <-chan ingress.RawEvent) ingress.RawEvent {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for raw event")

		return ingress.RawEvent{}
	}
}

func objectNames(event ingress.RawEvent) []string {
	names := make([]string, 0, len(event.Objects))
	for _, obj := range event.Objects {
		names = append(names, obj.Namespace+"/"+obj.Name)
	}

	return names
}

// countingCollector counts watch restarts and dropped events.
type countingCollector struct {
	*metrics.NoopCollector

	mu       sync.Mutex
	restarts int
	errors   []string
	dropped  int
}

func newCountingCollector() *countingCollector {
	return &countingCollector{NoopCollector: metrics.NewNoopCollector()}
}

func (c *countingCollector) RecordWatchRestart(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.restarts++
}

func (c *countingCollector) RecordWatchError(_ context.Context, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = append(c.errors, errorType)
}

func (c *countingCollector) RecordEventDropped(_ context.Context, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropped++
}

func (c *countingCollector) snapshot() (int, []string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.restarts, append([]string(nil), c.errors...), c.dropped
}

func startWatcher(t *testing.T, run func(ctx context.Context, out chan<- ingress.RawEvent) error) <-chan ingress.RawEvent {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan ingress.RawEvent)
	done := make(chan error, 1)

	go func() {
		done <- run(ctx, events)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(eventTimeout):
			t.Error("watcher did not stop")
		}
	})

	return events
}

package controller

import (
	"context"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"k8s.io/apimachinery/pkg/labels"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/lexfrei/kube-ingress-proxy/internal/config"
	"github.com/lexfrei/kube-ingress-proxy/internal/ingress"
	"github.com/lexfrei/kube-ingress-proxy/internal/logging"
	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
	"github.com/lexfrei/kube-ingress-proxy/internal/proxy"
	"github.com/lexfrei/kube-ingress-proxy/internal/router"
)

var errRoutesNotReady = errors.New("route table has not received ingress events yet")

// Config holds all configuration options for the proxy process.
// Values are typically populated from CLI flags or environment variables.
type Config struct {
	// IngressClass is the ingress class served by this proxy.
	// Ingresses with a different ingressClassName are ignored.
	IngressClass string

	// Namespace limits the watch to one namespace. Empty watches all.
	Namespace string

	// LabelSelector selects watched Ingresses, e.g. "control-class=pingora".
	LabelSelector string

	// Port is the proxy listen port. Zero takes the port from the Pod config.
	Port int32

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints.
	HealthAddr string

	// ShutdownTimeout bounds graceful shutdown of the proxy server.
	ShutdownTimeout time.Duration

	// LogLevel is adjusted from the Pod's log level annotation.
	LogLevel *slog.LevelVar
}

// Run initializes the proxy and blocks until the context is cancelled or
// an error occurs.
//
// The function performs the following steps:
//  1. Initializes controller-runtime manager with metrics and health endpoints
//  2. Resolves the Pod config and applies its log level and port
//  3. Builds the route table, the ingress watch pipeline and the proxy server
//  4. Starts the manager and blocks until shutdown
//
//nolint:funlen,noinlineerr // setup requires multiple steps
func Run(ctx context.Context, cfg *Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing proxy manager")

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load kubeconfig")
	}

	shutdownTimeout := cfg.ShutdownTimeout

	mgr, err := ctrl.NewManager(restConfig, ctrl.Options{
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress:  cfg.HealthAddr,
		GracefulShutdownTimeout: &shutdownTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	collector := metrics.NewCollector(crmetrics.Registry)

	podConfig, resolveErr := config.NewResolver(mgr.GetAPIReader(), collector).Resolve(ctx)
	if resolveErr != nil {
		logger.Error(resolveErr, "load config failed, using defaults")
	}

	if cfg.LogLevel != nil && logging.ApplyLevel(cfg.LogLevel, podConfig.LogLevel) {
		logger.Info("log level set from pod annotation", "level", podConfig.LogLevel)
	}

	port := cfg.Port
	if port == 0 {
		port = podConfig.Port
	}

	logger.Info("proxy config", "config", podConfig.JSON(), "port", port)

	watchClient, err := client.NewWithWatch(restConfig, client.Options{
		Scheme: mgr.GetScheme(),
		Mapper: mgr.GetRESTMapper(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to create watch client")
	}

	watcher, err := newWatcher(watchClient, collector, cfg)
	if err != nil {
		return err
	}

	table := router.NewTable(collector)
	pipeline := NewPipeline(watcher, NewAdapter(ingress.NewDecoder(cfg.IngressClass), collector), table)

	if err := mgr.Add(pipeline); err != nil {
		return errors.Wrap(err, "failed to add ingress pipeline")
	}

	handler := proxy.NewHandler(proxy.NewRouter(table), collector)

	if err := mgr.Add(proxy.NewServer(port, handler, cfg.ShutdownTimeout)); err != nil {
		return errors.Wrap(err, "failed to add proxy server")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("readyz", tableReadyCheck(table)); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager")

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}

func newWatcher(c client.WithWatch, collector metrics.Collector, cfg *Config) (*IngressWatcher, error) {
	selector, err := labels.ConvertSelectorToLabelsMap(cfg.LabelSelector)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid label selector %q", cfg.LabelSelector)
	}

	watcher := NewIngressWatcher(c, collector).InNamespace(cfg.Namespace)

	for _, key := range slices.Sorted(maps.Keys(selector)) {
		watcher.AddLabelSelector(key, selector[key])
	}

	return watcher, nil
}

func tableReadyCheck(table *router.Table) healthz.Checker {
	return func(_ *http.Request) error {
		if !table.Ready() {
			return errRoutesNotReady
		}

		return nil
	}
}

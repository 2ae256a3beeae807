// Package config resolves the proxy runtime configuration from the Pod the
// proxy runs in.
package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
)

const (
	// DefaultPort is used when the Pod declares no container port named "http".
	DefaultPort int32 = 30666

	// HTTPPortName is the container port name carrying the listen port.
	HTTPPortName = "http"

	// LogLevelAnnotation overrides the log level of the proxy Pod.
	LogLevelAnnotation = "pga-log-level"

	hostnameFile  = "/etc/hostname"
	namespaceFile = "/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// Resolution status labels.
const (
	statusSuccess = "success"
	statusFailed  = "failed"
)

var (
	// ErrPodNameNotFound is returned when neither HOSTNAME nor /etc/hostname name the Pod.
	ErrPodNameNotFound = errors.New("pod name not found")

	// ErrNamespaceNotFound is returned when the Pod namespace cannot be determined.
	ErrNamespaceNotFound = errors.New("namespace not found")
)

// ProxyConfig is the configuration read from the proxy Pod.
type ProxyConfig struct {
	Port     int32  `json:"port"`
	LogLevel string `json:"log_level"`
}

// Default returns the configuration used when the Pod cannot be read.
func Default() ProxyConfig {
	return ProxyConfig{Port: DefaultPort}
}

// JSON renders the configuration for logging.
func (c ProxyConfig) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}

	return string(data)
}

// Resolver reads ProxyConfig from the proxy's own Pod.
type Resolver struct {
	reader  client.Reader
	metrics metrics.Collector

	// lookupEnv and readFile are replaced in tests.
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// NewResolver creates a Resolver reading Pods through reader.
func NewResolver(reader client.Reader, metricsCollector metrics.Collector) *Resolver {
	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &Resolver{
		reader:    reader,
		metrics:   metricsCollector,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// WithEnv replaces the environment lookup used to find the Pod identity.
func (r *Resolver) WithEnv(lookup func(string) (string, bool)) *Resolver {
	r.lookupEnv = lookup

	return r
}

// WithFiles replaces the file reader used to find the Pod identity.
func (r *Resolver) WithFiles(read func(string) ([]byte, error)) *Resolver {
	r.readFile = read

	return r
}

// Resolve returns the configuration of the current Pod. On failure it
// returns the error together with Default(), so callers can log and go on.
func (r *Resolver) Resolve(ctx context.Context) (ProxyConfig, error) {
	cfg := Default()

	pod, err := r.selfPod(ctx)
	if err != nil {
		r.metrics.RecordConfigResolve(ctx, statusFailed)

		return cfg, err
	}

	if level, ok := pod.Annotations[LogLevelAnnotation]; ok {
		cfg.LogLevel = level
	}

	for _, container := range pod.Spec.Containers {
		for _, port := range container.Ports {
			if port.Name == HTTPPortName {
				cfg.Port = port.ContainerPort
			}
		}
	}

	r.metrics.RecordConfigResolve(ctx, statusSuccess)

	slog.Default().With("component", "config").Debug("resolved pod config",
		"pod", pod.Name,
		"namespace", pod.Namespace,
		"config", cfg.JSON(),
	)

	return cfg, nil
}

func (r *Resolver) selfPod(ctx context.Context) (*corev1.Pod, error) {
	name := r.identity("HOSTNAME", hostnameFile)
	if name == "" {
		return nil, ErrPodNameNotFound
	}

	namespace := r.identity("NAMESPACE", namespaceFile)
	if namespace == "" {
		return nil, ErrNamespaceNotFound
	}

	pod := &corev1.Pod{}

	err := r.reader.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, pod)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get pod %s/%s", namespace, name)
	}

	return pod, nil
}

// identity prefers the environment variable and falls back to the file.
func (r *Resolver) identity(envName, path string) string {
	if value, ok := r.lookupEnv(envName); ok {
		return value
	}

	data, err := r.readFile(path)
	if err != nil {
		return ""
	}

	return strings.ReplaceAll(string(data), "\n", "")
}

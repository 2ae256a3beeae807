package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lexfrei/kube-ingress-proxy/internal/metrics"
)

// RequestIDHeader carries the request ID towards the backend and back to the client.
const RequestIDHeader = "X-Request-Id"

// Request result labels.
const (
	resultRouted        = "routed"
	resultNotFound      = "not_found"
	resultInvalidHeader = "invalid_header"
	resultUpstreamError = "upstream_error"
)

type peerContextKey struct{}

// URL returns the upstream base URL of the peer.
func (p *Peer) URL() *url.URL {
	scheme := "http"
	if p.TLS {
		scheme = "https"
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Backend, strconv.Itoa(int(p.Port))),
	}
}

// Option configures a Handler.
type Option func(*Handler)

// WithTransport sets the base transport used for upstream connections.
// TLS peers get a clone of it with the peer's server name.
func WithTransport(base *http.Transport) Option {
	return func(h *Handler) {
		h.transports = newTransportPool(base)
	}
}

// Handler is the HTTP entry point of the proxy.
type Handler struct {
	router     *Router
	metrics    metrics.Collector
	transports *transportPool
	proxy      *httputil.ReverseProxy
	logger     *slog.Logger
}

// NewHandler creates a Handler routing with rt.
func NewHandler(rt *Router, m metrics.Collector, opts ...Option) *Handler {
	if m == nil {
		m = metrics.NewNoopCollector()
	}

	h := &Handler{
		router:  rt,
		metrics: m,
		logger:  slog.Default().With("component", "proxy"),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.transports == nil {
		h.transports = newTransportPool(nil)
	}

	h.proxy = &httputil.ReverseProxy{
		Rewrite:      h.rewrite,
		Transport:    h.transports,
		ErrorHandler: h.upstreamError,
	}

	return h
}

var _ http.Handler = (*Handler)(nil)

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}
	result := resultRouted

	defer func() {
		h.metrics.RecordRequest(r.Context(), result, recorder.status(), time.Since(startTime))
	}()

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(RequestIDHeader, requestID)
	}

	recorder.Header().Set(RequestIDHeader, requestID)

	var rc RequestContext

	err := h.router.RequestFilter(r, &rc)
	if err == nil {
		var peer *Peer

		peer, err = h.router.UpstreamPeer(&rc)
		if err == nil {
			h.logger.Debug("request routed",
				"host", r.Host,
				"path", r.URL.Path,
				"upstream", peer.URL().String(),
				"requestID", requestID,
			)

			ctx := context.WithValue(r.Context(), peerContextKey{}, peer)
			h.proxy.ServeHTTP(recorder, r.WithContext(ctx))

			if recorder.upstreamFailed {
				result = resultUpstreamError
			}

			return
		}
	}

	switch {
	case errors.Is(err, ErrInvalidHeader):
		result = resultInvalidHeader

		http.Error(recorder, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	default:
		result = resultNotFound

		http.NotFound(recorder, r)
	}

	h.logger.Debug("request rejected",
		"host", r.Host,
		"path", r.URL.Path,
		"reason", err.Error(),
		"requestID", requestID,
	)
}

func (h *Handler) rewrite(pr *httputil.ProxyRequest) {
	peer, _ := pr.In.Context().Value(peerContextKey{}).(*Peer)
	if peer == nil {
		return
	}

	pr.SetURL(peer.URL())
	pr.SetXForwarded()

	// Backends see the Host the client asked for.
	pr.Out.Host = pr.In.Host
}

func (h *Handler) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	if recorder, ok := w.(*statusRecorder); ok {
		recorder.upstreamFailed = true
	}

	h.logger.Warn("upstream request failed",
		"host", r.Host,
		"path", r.URL.Path,
		"error", err,
	)

	w.WriteHeader(http.StatusBadGateway)
}

// transportPool picks the transport for the peer carried by the request
// context. TLS transports are cached per server name.
type transportPool struct {
	base *http.Transport

	mu    sync.Mutex
	bySNI map[string]*http.Transport
}

func newTransportPool(base *http.Transport) *transportPool {
	if base == nil {
		base, _ = http.DefaultTransport.(*http.Transport)
		if base == nil {
			base = &http.Transport{}
		}

		base = base.Clone()
	}

	return &transportPool{
		base:  base,
		bySNI: make(map[string]*http.Transport),
	}
}

func (p *transportPool) RoundTrip(req *http.Request) (*http.Response, error) {
	peer, _ := req.Context().Value(peerContextKey{}).(*Peer)
	if peer == nil || !peer.TLS {
		//nolint:wrapcheck // errors are surfaced through the proxy error handler
		return p.base.RoundTrip(req)
	}

	//nolint:wrapcheck // errors are surfaced through the proxy error handler
	return p.forSNI(peer.SNI).RoundTrip(req)
}

func (p *transportPool) forSNI(sni string) *http.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()

	if transport, ok := p.bySNI[sni]; ok {
		return transport
	}

	transport := p.base.Clone()

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if transport.TLSClientConfig != nil {
		tlsConfig = transport.TLSClientConfig.Clone()
	}

	tlsConfig.ServerName = sni
	transport.TLSClientConfig = tlsConfig

	p.bySNI[sni] = transport

	return transport
}

// statusRecorder remembers the status code written to the client.
type statusRecorder struct {
	http.ResponseWriter

	code           int
	upstreamFailed bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}

	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}

	//nolint:wrapcheck // passthrough writer
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}

	return r.code
}

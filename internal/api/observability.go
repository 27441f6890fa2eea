package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"rtype/internal/journal"
	"rtype/internal/network"
)

// Metrics with bounded cardinality (no per-client or per-lobby labels)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtype_tick_duration_seconds",
		Help:    "Time spent in one server tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033},
	})

	lobbyCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtype_lobbies",
		Help: "Current number of lobbies",
	})

	lobbyClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtype_lobby_clients",
		Help: "Clients currently in a lobby",
	})

	messagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtype_messages_handled_total",
		Help: "Client messages routed successfully",
	}, []string{"type"}) // Bounded: known message types or "unknown"

	messagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtype_messages_rejected_total",
		Help: "Client messages dropped or refused",
	}, []string{"reason"})

	snapshotBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtype_snapshot_bytes",
		Help:    "Size of snapshot datagrams",
		Buckets: prometheus.ExponentialBuckets(256, 2, 9),
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtype_http_rejected_total",
		Help: "HTTP requests rejected by rate limiter, origin check or auth",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "auth", "ws_total_limit", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtype_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtype_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtype_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtype_websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

var knownMessageTypes = map[string]struct{}{
	network.TypePlayerInput:     {},
	network.TypeViewport:        {},
	network.TypeRequestLobby:    {},
	network.TypeToggleSpectator: {},
	network.TypeStartGame:       {},
	network.TypeLeaveLobby:      {},
	network.TypeSetDifficulty:   {},
	network.TypeChat:            {},
}

func messageLabel(kind string) string {
	if _, ok := knownMessageTypes[kind]; ok {
		return kind
	}
	if kind == "malformed" {
		return kind
	}
	return "unknown"
}

// Metrics feeds the tick loop's measurements into Prometheus. It satisfies
// server.Observer.
type Metrics struct{}

func (Metrics) ObserveTick(d time.Duration) { tickDuration.Observe(d.Seconds()) }
func (Metrics) MessageHandled(kind string)  { messagesHandled.WithLabelValues(messageLabel(kind)).Inc() }
func (Metrics) MessageRejected(kind string) { messagesRejected.WithLabelValues(messageLabel(kind)).Inc() }
func (Metrics) SnapshotSent(bytes int)      { snapshotBytes.Observe(float64(bytes)) }

func (Metrics) Lobbies(lobbies, clients int) {
	lobbyCount.Set(float64(lobbies))
	lobbyClients.Set(float64(clients))
}

// RegisterTransportMetrics exposes transport counters read at scrape time.
// Registering twice is a no-op.
func RegisterTransportMetrics(reg prometheus.Registerer, stats func() network.Stats) {
	counter := func(name, help string, get func(network.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return float64(get(stats()))
		})
	}
	registerAll(reg, "transport",
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rtype_transport_clients",
			Help: "Registered UDP clients",
		}, func() float64 { return float64(stats().Clients) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rtype_transport_queue_depth",
			Help: "Inbound packets waiting for the tick",
		}, func() float64 { return float64(stats().QueueDepth) }),
		counter("rtype_transport_packets_in_total", "Datagrams accepted", func(s network.Stats) uint64 { return s.PacketsIn }),
		counter("rtype_transport_packets_out_total", "Datagrams written", func(s network.Stats) uint64 { return s.PacketsOut }),
		counter("rtype_transport_bytes_in_total", "Bytes accepted", func(s network.Stats) uint64 { return s.BytesIn }),
		counter("rtype_transport_bytes_out_total", "Bytes written", func(s network.Stats) uint64 { return s.BytesOut }),
		counter("rtype_transport_rate_limited_total", "Datagrams dropped by the per-client limiter", func(s network.Stats) uint64 { return s.RateLimited }),
		counter("rtype_transport_queue_dropped_total", "Datagrams dropped on a full inbound queue", func(s network.Stats) uint64 { return s.QueueDropped }),
		counter("rtype_transport_send_dropped_total", "Sends dropped on a full outbound queue", func(s network.Stats) uint64 { return s.SendDropped }),
		counter("rtype_transport_evicted_total", "Clients evicted for inactivity", func(s network.Stats) uint64 { return s.Evicted }),
	)
}

// RegisterJournalMetrics exposes the lobby journal's counters, including
// entries shed by its rate limits.
func RegisterJournalMetrics(reg prometheus.Registerer, stats func() journal.Stats) {
	registerAll(reg, "journal",
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "rtype_journal_entries_total",
			Help: "Journal entries queued for writing",
		}, func() float64 { return float64(stats().Total) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "rtype_journal_dropped_total",
			Help: "Journal entries dropped by rate limits or a full buffer",
		}, func() float64 { return float64(stats().Dropped) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rtype_journal_pending",
			Help: "Journal entries buffered but not yet written",
		}, func() float64 { return float64(stats().Pending) }),
	)
}

func registerAll(reg prometheus.Registerer, what string, collectors ...prometheus.Collector) {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				log.Warn().Err(err).Msgf("register %s metric", what)
			}
		}
	}
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // must stay on loopback unless AllowExternal is set
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// DebugHandler serves pprof, Prometheus metrics and a health check.
func DebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return handler
}

// RunDebugServer serves DebugHandler until ctx is cancelled. Non-loopback
// addresses are forced to 127.0.0.1 unless AllowExternal is set.
func RunDebugServer(ctx context.Context, cfg ObservabilityConfig) error {
	if !cfg.Enabled {
		log.Info().Msg("debug server disabled")
		return nil
	}
	if !cfg.AllowExternal && !isLoopback(cfg.ListenAddr) {
		log.Warn().Str("addr", cfg.ListenAddr).Msg("debug server forced to localhost")
		cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           DebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", cfg.ListenAddr).Msg("debug server starting (pprof, metrics)")
	return serve(ctx, srv)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !constantTimeEqual(u, user) || !constantTimeEqual(p, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordConnectionRejected increments the rejection counter.
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates the WebSocket connections gauge
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments the WebSocket messages counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics is the in-process counter/gauge set backing /metrics. No
// binary-protocol admin command (such as cmd_show_stats) is dispatched, so
// nothing on the wire reads it.
type Metrics struct {
	registry *prometheus.Registry

	residentPages   prometheus.Gauge
	ticketsInUse    prometheus.Gauge
	ticketsIssued   prometheus.Counter
	fixQuorumWins   prometheus.Counter
	requestsTotal   prometheus.Counter
	requestsFailed  prometheus.Counter
}

// NewMetrics constructs and registers the gauge/counter set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		residentPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raida_resident_pages",
			Help: "Number of pages currently resident in the page cache",
		}),
		ticketsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raida_tickets_in_use",
			Help: "Number of ticket pool slots currently allocated",
		}),
		ticketsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raida_tickets_issued_total",
			Help: "Total tickets issued by get_ticket",
		}),
		fixQuorumWins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raida_fix_quorum_total",
			Help: "Total coins repaired by a fix quorum vote",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raida_requests_total",
			Help: "Total wire requests dispatched",
		}),
		requestsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "raida_requests_failed_total",
			Help: "Total wire requests that returned a non-success status",
		}),
	}
	reg.MustRegister(m.residentPages, m.ticketsInUse, m.ticketsIssued, m.fixQuorumWins, m.requestsTotal, m.requestsFailed)
	return m
}

// SetResidentPages records the page cache's current resident-page count.
func (m *Metrics) SetResidentPages(n int) { m.residentPages.Set(float64(n)) }

// SetTicketsInUse records the ticket pool's current occupied-slot count.
func (m *Metrics) SetTicketsInUse(n int) { m.ticketsInUse.Set(float64(n)) }

// IncTicketsIssued counts one get_ticket call that allocated a slot.
func (m *Metrics) IncTicketsIssued() { m.ticketsIssued.Inc() }

// AddFixQuorumWins counts n coins repaired by a single fix quorum vote.
func (m *Metrics) AddFixQuorumWins(n int) { m.fixQuorumWins.Add(float64(n)) }

// StatsSnapshot is the JSON body of /stats; no wire command returns it.
type StatsSnapshot struct {
	ResidentPages int `json:"resident_pages"`
	TicketsInUse  int `json:"tickets_in_use"`
}

// AdminServer is the localhost HTTP surface of spec.md §6's admin
// interface: health, Prometheus metrics, and an admin-key-gated stats
// view, with the same start/shutdown lifecycle shape as the rest of this
// codebase's background HTTP listeners and chi routing in place of a bare
// ServeMux.
type AdminServer struct {
	httpSrv *http.Server
	log     *logrus.Logger
}

// NewAdminServer builds the admin router. snapshot is called fresh on
// every /stats request so the page-cache/ticket-pool counts it reports are
// never stale.
func NewAdminServer(addr string, adminKey [16]byte, metrics *Metrics, snapshot func() StatsSnapshot, log *logrus.Logger) *AdminServer {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))
	r.Get("/stats", requireAdminKey(adminKey, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot())
	}))

	return &AdminServer{
		httpSrv: &http.Server{Addr: addr, Handler: r},
		log:     log,
	}
}

// requireAdminKey gates a handler behind the X-Admin-Key header, compared
// in constant time against the configured admin_key (spec.md §6: "the
// server MUST refuse to start without one configured" implies every admin
// surface it protects must check it too).
func requireAdminKey(want [16]byte, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := decodeAdminKeyHeader(r.Header.Get("X-Admin-Key"))
		if err != nil || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func decodeAdminKeyHeader(hexKey string) ([16]byte, error) {
	var out [16]byte
	if len(hexKey) != 32 {
		return out, errors.New("server: admin key header: wrong length")
	}
	for i := 0; i < 16; i++ {
		hi, err := hexNibble(hexKey[2*i])
		if err != nil {
			return out, err
		}
		lo, err := hexNibble(hexKey[2*i+1])
		if err != nil {
			return out, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errors.New("server: admin key header: invalid hex digit")
	}
}

// Start launches the admin HTTP server in the background.
func (a *AdminServer) Start() {
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("server: admin http server exited")
		}
	}()
}

// Shutdown gracefully stops the admin HTTP server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.httpSrv.Shutdown(ctx)
}

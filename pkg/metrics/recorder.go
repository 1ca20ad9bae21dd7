// Package metrics provides Prometheus-based metrics recording for agent sessions.
//
// There is no scrape endpoint; the loop is a single process that writes a
// textfile snapshot after each session, suitable for the node_exporter
// textfile collector or plain inspection.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// TextfileName is the default snapshot file name under the state directory.
const TextfileName = "metrics.prom"

// Recorder records session-level metrics into its own registry.
type Recorder struct {
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	costTotal       prometheus.Counter
	heartbeatStalls prometheus.Counter
}

// NewRecorder creates a recorder with all metrics registered.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_sessions_total",
				Help: "Total number of agent sessions by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		sessionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentloop_session_duration_seconds",
				Help:    "Duration of agent sessions in seconds",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentloop_tokens_total",
				Help: "Total number of tokens by direction (input or output)",
			},
			[]string{"direction"},
		),
		costTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentloop_estimated_cost_dollars_total",
				Help: "Estimated total cost in USD reported by session results",
			},
		),
		heartbeatStalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentloop_heartbeat_stalls_total",
				Help: "Total number of heartbeat stall warnings across sessions",
			},
		),
	}
}

// ObserveSession records one completed session.
func (r *Recorder) ObserveSession(sessionType, outcome string, duration time.Duration) {
	r.sessionsTotal.WithLabelValues(sessionType, outcome).Inc()
	r.sessionDuration.WithLabelValues(sessionType).Observe(duration.Seconds())
}

// AddTokens accumulates token usage. Direction is "input" or "output".
func (r *Recorder) AddTokens(direction string, count int) {
	if count <= 0 {
		return
	}
	r.tokensTotal.WithLabelValues(direction).Add(float64(count))
}

// AddCost accumulates estimated session cost in USD.
func (r *Recorder) AddCost(usd float64) {
	if usd <= 0 {
		return
	}
	r.costTotal.Add(usd)
}

// IncHeartbeatStall counts one stall warning.
func (r *Recorder) IncHeartbeatStall() {
	r.heartbeatStalls.Inc()
}

// WriteTextfile writes a snapshot of all metrics in Prometheus text format.
// The write is atomic so a scraper never sees a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}

	encoder := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close metrics file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}

	return nil
}

// TextfilePath returns the snapshot path under a state directory.
func TextfilePath(stateDir string) string {
	return filepath.Join(stateDir, TextfileName)
}

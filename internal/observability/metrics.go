package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics this protocol can actually
// produce: no network/FEC/crypto counters, since none of those
// concerns exist at the core layer (spec §1 Non-goals).
type Metrics struct {
	EnvelopesDisplayed *prometheus.CounterVec
	EnvelopesObserved  *prometheus.CounterVec
	DuplicateDrops     prometheus.Counter
	DigestMismatches   prometheus.Counter
	ChunksCommitted    prometheus.Counter
	TransfersCompleted prometheus.Counter
	TransfersFailed    prometheus.Counter
}

// NewMetrics creates and registers the protocol's Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		EnvelopesDisplayed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrxfer_envelopes_displayed_total",
				Help: "Envelopes rendered to the visual channel, by kind",
			},
			[]string{"kind"},
		),
		EnvelopesObserved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qrxfer_envelopes_observed_total",
				Help: "Envelopes decoded from the visual channel, by kind",
			},
			[]string{"kind"},
		),
		DuplicateDrops: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qrxfer_duplicate_nonce_drops_total",
				Help: "Observations discarded because their nonce repeats the last processed one",
			},
		),
		DigestMismatches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qrxfer_digest_mismatches_total",
				Help: "Chunks whose reported digest did not match the sender's expected digest",
			},
		),
		ChunksCommitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qrxfer_chunks_committed_total",
				Help: "Chunks appended to a receiver's committed buffer",
			},
		),
		TransfersCompleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qrxfer_transfers_completed_total",
				Help: "Transfers that reached Finalized/Done",
			},
		),
		TransfersFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "qrxfer_transfers_failed_total",
				Help: "Transfers that aborted (cancel or fatal error)",
			},
		),
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

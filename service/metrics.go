package service

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"

	"election-ledger/models"
)

var (
	VotesRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "votes_recorded_total",
			Help:      "Total number of votes sealed into the ledger and persisted.",
		},
	)

	VotesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "votes_rejected_total",
			Help:      "Total number of vote submissions rejected, labeled by reason.",
		},
		[]string{"reason"}, // session_closed, not_eligible, already_voted, ledger_error, store_error
	)

	MiningAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "mining_attempts",
			Help:      "Number of hashes computed to seal a block.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	MiningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "mining_duration_seconds",
			Help:      "Time spent mining a block.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	ChainLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "chain_length",
			Help:      "Current number of blocks in the ledger, genesis included.",
		},
	)

	ChainAudits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "election",
			Subsystem: "ledger",
			Name:      "chain_audits_total",
			Help:      "Total chain validation runs, labeled by outcome.",
		},
		[]string{"outcome"}, // valid, corrupt
	)
)

// RecordSealed is passed to the ledger as its OnSealed hook.
func RecordSealed(block models.Block, attempts uint64, elapsed time.Duration) {
	MiningAttempts.Observe(float64(attempts))
	MiningDuration.Observe(elapsed.Seconds())
	ChainLength.Set(float64(block.Index + 1))
}

// ComputeMiningStats summarises the nonces of every mined block (genesis excluded).
func ComputeMiningStats(blocks []models.Block, difficulty int) models.MiningStats {
	ms := models.MiningStats{ExpectedWork: math.Pow(16, float64(difficulty))}
	if len(blocks) <= 1 {
		return ms
	}

	nonces := make([]float64, 0, len(blocks)-1)
	for _, b := range blocks[1:] {
		nonces = append(nonces, float64(b.Nonce))
		ms.TotalNonces += b.Nonce
		if b.Nonce > ms.MaxNonce {
			ms.MaxNonce = b.Nonce
		}
	}

	ms.Blocks = len(nonces)
	if len(nonces) > 1 {
		ms.MeanNonce, ms.StdDevNonce = stat.MeanStdDev(nonces, nil)
	} else {
		ms.MeanNonce = nonces[0]
	}
	return ms
}

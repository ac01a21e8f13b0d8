package models

import "time"

// MiningStats summarises the proof-of-work effort spent on a chain.
type MiningStats struct {
	Blocks       int     `json:"blocks"`
	MeanNonce    float64 `json:"mean_nonce"`
	StdDevNonce  float64 `json:"stddev_nonce"`
	MaxNonce     uint64  `json:"max_nonce"`
	TotalNonces  uint64  `json:"total_nonces"`
	ExpectedWork float64 `json:"expected_work"`
}

// AuditReport records the outcome of a single chain validation run.
type AuditReport struct {
	ID          string      `json:"id"`
	At          time.Time   `json:"at"`
	ChainLength int         `json:"chain_length"`
	Difficulty  int         `json:"difficulty"`
	LastHash    string      `json:"last_hash"`
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Mining      MiningStats `json:"mining"`
}

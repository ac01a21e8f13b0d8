package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

type VoteRecord struct {
	VoterID       string `json:"voter_id"`
	CandidateID   int    `json:"candidate_id"`
	TransactionID string `json:"transaction_id"`
}

// TransactionDescriptor is the receipt handed back once a vote is sealed.
type TransactionDescriptor struct {
	TransactionID string    `json:"transaction_id"`
	BlockNumber   uint64    `json:"block_number"`
	Timestamp     time.Time `json:"timestamp"`
}

// Receipt is a TransactionDescriptor signed by the ledger operator key.
type Receipt struct {
	Transaction TransactionDescriptor `json:"transaction"`
	BlockHash   string                `json:"block_hash"`
	Signature   string                `json:"signature"`
	Signer      string                `json:"signer"`
}

// VoteRow is the durable record the vote-casting path keeps per voter.
type VoteRow struct {
	VoterID     string    `json:"voter_id"`
	CandidateID int       `json:"candidate_id"`
	CastAt      time.Time `json:"cast_at"`
	Receipt     Receipt   `json:"receipt"`
}

// NewTransactionID derives a transaction id from the vote and the time it was cast.
func NewTransactionID(voterID string, candidateID int, at time.Time) string {
	input := voterID + strconv.Itoa(candidateID) + strconv.FormatInt(at.UnixMilli(), 10)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

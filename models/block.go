package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GenesisPreviousHash is the previous hash recorded in the genesis block.
const GenesisPreviousHash = "0"

var (
	// ErrMiningFailure is returned when a block cannot be sealed.
	ErrMiningFailure = errors.New("mining failure")
	// ErrMiningTimeout is returned when mining hits its attempt cap.
	ErrMiningTimeout = fmt.Errorf("%w: attempt limit reached", ErrMiningFailure)
	// ErrChainCorruption marks every chain validation failure.
	ErrChainCorruption = errors.New("chain corruption")
)

type Block struct {
	Index        uint64       `json:"index"`
	Timestamp    time.Time    `json:"timestamp"`
	Votes        []VoteRecord `json:"votes"`
	PreviousHash string       `json:"previous_hash"`
	Nonce        uint64       `json:"nonce"`
	Hash         string       `json:"hash"`
}

// ValidationError describes the first invariant a chain violates.
type ValidationError struct {
	Index  uint64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("block %d: %s", e.Index, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrChainCorruption }

// CalculateHash returns the hex SHA-256 digest of every field except Hash.
func (b *Block) CalculateHash() string {
	votes, err := json.Marshal(b.Votes)
	if err != nil {
		// VoteRecord holds only strings and ints
		log.Printf("Warning: Failed to marshal votes for hashing: %v", err)
	}

	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(b.Index, 10))
	sb.WriteString(b.Timestamp.UTC().Format(time.RFC3339Nano))
	sb.Write(votes)
	sb.WriteString(b.PreviousHash)
	sb.WriteString(strconv.FormatUint(b.Nonce, 10))

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

// MeetsTarget reports whether the first difficulty hex digits of hash are '0'.
func MeetsTarget(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	return strings.Count(hash[:difficulty], "0") == difficulty
}

// Mine searches nonces from the current value until the hash meets the
// difficulty target. A maxAttempts of zero never gives up.
func (b *Block) Mine(difficulty int, maxAttempts uint64) (uint64, error) {
	var attempts uint64
	for {
		b.Hash = b.CalculateHash()
		attempts++

		if MeetsTarget(b.Hash, difficulty) {
			return attempts, nil
		}

		if maxAttempts > 0 && attempts >= maxAttempts {
			b.Hash = ""
			return attempts, ErrMiningTimeout
		}

		b.Nonce++
		if attempts%1000 == 0 {
			runtime.Gosched()
		}
	}
}

// Validate checks that the stored hash matches the block contents and, unless
// the block is the genesis block, that it satisfies the work target.
func (b *Block) Validate(difficulty int) error {
	calculated := b.CalculateHash()
	if calculated != b.Hash {
		return &ValidationError{Index: b.Index, Reason: fmt.Sprintf("hash mismatch: stored %s, calculated %s", b.Hash, calculated)}
	}

	if b.Index > 0 && !MeetsTarget(b.Hash, difficulty) {
		return &ValidationError{Index: b.Index, Reason: fmt.Sprintf("hash %s does not meet difficulty %d", b.Hash, difficulty)}
	}

	return nil
}

// Clone returns a copy that shares no memory with b.
func (b Block) Clone() Block {
	votes := make([]VoteRecord, len(b.Votes))
	copy(votes, b.Votes)
	b.Votes = votes
	return b
}

// ValidateChain validates an entire chain. An empty chain is rejected since
// every ledger starts with a genesis block.
func ValidateChain(blocks []Block, difficulty int) error {
	if len(blocks) == 0 {
		return &ValidationError{Index: 0, Reason: "missing genesis block"}
	}

	genesis := blocks[0]
	if genesis.Index != 0 {
		return &ValidationError{Index: genesis.Index, Reason: "genesis block must have index 0"}
	}
	if genesis.PreviousHash != GenesisPreviousHash {
		return &ValidationError{Index: 0, Reason: fmt.Sprintf("genesis previous hash is %q", genesis.PreviousHash)}
	}
	if err := genesis.Validate(difficulty); err != nil {
		return err
	}

	for i := 1; i < len(blocks); i++ {
		current := &blocks[i]
		previous := &blocks[i-1]

		if current.Index != uint64(i) {
			return &ValidationError{Index: uint64(i), Reason: fmt.Sprintf("index is %d", current.Index)}
		}

		if current.PreviousHash != previous.Hash {
			return &ValidationError{Index: current.Index, Reason: "previous hash does not link to block " + strconv.Itoa(i-1)}
		}

		if err := current.Validate(difficulty); err != nil {
			return err
		}
	}

	return nil
}

// Package ledger keeps the in-process, hash-chained log of cast votes.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"election-ledger/models"
)

const (
	// DefaultDifficulty is the number of leading zero hex digits a sealed block needs.
	DefaultDifficulty = 2
	// MaxDifficulty is the length of a hex SHA-256 digest.
	MaxDifficulty = 64
)

var (
	// ErrInvalidInput is returned for votes the ledger refuses to record.
	ErrInvalidInput  = errors.New("invalid input")
	ErrBlockNotFound = errors.New("block not found")
)

type Config struct {
	// Difficulty defaults to DefaultDifficulty when zero or negative and is
	// capped at MaxDifficulty.
	Difficulty int
	// MaxAttempts caps mining per block. Zero mines until a nonce is found.
	MaxAttempts uint64
	Clock       func() time.Time
	// OnSealed is called with every appended block while the append lock is
	// held, so it must not call back into the Ledger.
	OnSealed func(block models.Block, attempts uint64, elapsed time.Duration)
}

// Ledger owns the chain. All appends go through RecordVote, which holds the
// write lock from reading the tail until the mined block is appended.
type Ledger struct {
	mu          sync.RWMutex
	chain       []models.Block
	difficulty  int
	maxAttempts uint64
	now         func() time.Time
	onSealed    func(models.Block, uint64, time.Duration)
}

// New creates a ledger holding only its genesis block.
func New(cfg Config) *Ledger {
	switch {
	case cfg.Difficulty < 0:
		log.Printf("Warning: negative difficulty %d, using %d", cfg.Difficulty, DefaultDifficulty)
		cfg.Difficulty = DefaultDifficulty
	case cfg.Difficulty == 0:
		cfg.Difficulty = DefaultDifficulty
	case cfg.Difficulty > MaxDifficulty:
		log.Printf("Warning: difficulty %d exceeds %d, capping", cfg.Difficulty, MaxDifficulty)
		cfg.Difficulty = MaxDifficulty
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	l := &Ledger{
		difficulty:  cfg.Difficulty,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Clock,
		onSealed:    cfg.OnSealed,
	}

	genesis := models.Block{
		Index:        0,
		Timestamp:    l.timestamp(),
		Votes:        []models.VoteRecord{},
		PreviousHash: models.GenesisPreviousHash,
		Nonce:        0,
	}
	genesis.Hash = genesis.CalculateHash()
	l.chain = []models.Block{genesis}

	log.Printf("Ledger initialized with genesis block %s (difficulty %d)", genesis.Hash, l.difficulty)
	return l
}

// timestamp is the clock reading in UTC without a monotonic component, so a
// block compares equal to its JSON round trip.
func (l *Ledger) timestamp() time.Time {
	return l.now().UTC().Round(0)
}

// RecordVote seals a single vote into a new block and returns its receipt.
func (l *Ledger) RecordVote(voterID string, candidateID int) (models.TransactionDescriptor, error) {
	if voterID == "" {
		return models.TransactionDescriptor{}, fmt.Errorf("%w: empty voter id", ErrInvalidInput)
	}

	vote := models.VoteRecord{
		VoterID:       voterID,
		CandidateID:   candidateID,
		TransactionID: models.NewTransactionID(voterID, candidateID, l.now()),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	latest := l.chain[len(l.chain)-1]
	block := models.Block{
		Index:        latest.Index + 1,
		Timestamp:    l.timestamp(),
		Votes:        []models.VoteRecord{vote},
		PreviousHash: latest.Hash,
		Nonce:        0,
	}

	start := time.Now()
	attempts, err := block.Mine(l.difficulty, l.maxAttempts)
	if err != nil {
		log.Printf("Failed to mine block %d after %d attempts: %v", block.Index, attempts, err)
		return models.TransactionDescriptor{}, fmt.Errorf("mine block %d: %w", block.Index, err)
	}
	elapsed := time.Since(start)

	l.chain = append(l.chain, block)
	log.Printf("Sealed block %d with hash %s after %d attempts", block.Index, block.Hash, attempts)

	if l.onSealed != nil {
		l.onSealed(block.Clone(), attempts, elapsed)
	}

	return models.TransactionDescriptor{
		TransactionID: vote.TransactionID,
		BlockNumber:   block.Index,
		Timestamp:     block.Timestamp,
	}, nil
}

// GetChain returns a copy of every block in index order.
func (l *Ledger) GetChain() []models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	blocks := make([]models.Block, len(l.chain))
	for i, b := range l.chain {
		blocks[i] = b.Clone()
	}
	return blocks
}

// Validate walks the chain and returns the first invariant violation found.
func (l *Ledger) Validate() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return models.ValidateChain(l.chain, l.difficulty)
}

func (l *Ledger) IsChainValid() bool {
	if err := l.Validate(); err != nil {
		log.Printf("Invalid chain: %v", err)
		return false
	}
	return true
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

func (l *Ledger) Difficulty() int {
	return l.difficulty
}

func (l *Ledger) Latest() models.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Clone()
}

// BlockAt returns the block with the given index.
func (l *Ledger) BlockAt(index uint64) (models.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.chain)) {
		return models.Block{}, fmt.Errorf("%w: index %d, chain has %d blocks", ErrBlockNotFound, index, len(l.chain))
	}
	return l.chain[index].Clone(), nil
}

// FindTransaction locates the block holding the vote with the given transaction id.
func (l *Ledger) FindTransaction(txID string) (models.Block, models.VoteRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.chain) - 1; i > 0; i-- {
		for _, v := range l.chain[i].Votes {
			if v.TransactionID == txID {
				return l.chain[i].Clone(), v, true
			}
		}
	}
	return models.Block{}, models.VoteRecord{}, false
}

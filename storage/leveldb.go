package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"election-ledger/models"
)

const (
	voteKeyPrefix = "vote_" // vote rows by voter id
	txKeyPrefix   = "tx_"   // voter id by transaction id
)

var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicateVote = errors.New("duplicate vote")
)

// VoteStore persists one row per cast vote, keyed by voter and by transaction id.
type VoteStore struct {
	db   *leveldb.DB
	mu   sync.Mutex
	path string
}

// NewVoteStore opens (or creates) the vote database under dataDir.
func NewVoteStore(dataDir string) (*VoteStore, error) {
	dbPath := filepath.Join(dataDir, "votes")

	options := &opt.Options{
		BlockCacheCapacity: 8 * 1024 * 1024,
		WriteBuffer:        4 * 1024 * 1024,
	}

	db, err := leveldb.OpenFile(dbPath, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open vote database: %w", err)
	}

	log.Printf("Vote database opened at %s", dbPath)
	return &VoteStore{db: db, path: dbPath}, nil
}

func (s *VoteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveVote stores a row. Voter ids and transaction ids are unique.
func (s *VoteStore) SaveVote(row models.VoteRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voteKey := []byte(voteKeyPrefix + row.VoterID)
	txKey := []byte(txKeyPrefix + row.Receipt.Transaction.TransactionID)

	for _, key := range [][]byte{voteKey, txKey} {
		exists, err := s.db.Has(key, nil)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", key, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateVote, key)
		}
	}

	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal vote row: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(voteKey, data)
	batch.Put(txKey, []byte(row.VoterID))

	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to save vote row: %w", err)
	}
	return nil
}

func (s *VoteStore) HasVoted(voterID string) (bool, error) {
	ok, err := s.db.Has([]byte(voteKeyPrefix+voterID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check voter %s: %w", voterID, err)
	}
	return ok, nil
}

func (s *VoteStore) GetByVoter(voterID string) (*models.VoteRow, error) {
	data, err := s.db.Get([]byte(voteKeyPrefix+voterID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("%w: vote for voter %s", ErrNotFound, voterID)
		}
		return nil, fmt.Errorf("failed to retrieve vote: %w", err)
	}

	var row models.VoteRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vote row: %w", err)
	}
	return &row, nil
}

func (s *VoteStore) GetByTransaction(txID string) (*models.VoteRow, error) {
	voterID, err := s.db.Get([]byte(txKeyPrefix+txID), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, txID)
		}
		return nil, fmt.Errorf("failed to retrieve transaction: %w", err)
	}
	return s.GetByVoter(string(voterID))
}

// All returns every stored vote row ordered by voter id.
func (s *VoteStore) All() ([]models.VoteRow, error) {
	rows := make([]models.VoteRow, 0)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(voteKeyPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		var row models.VoteRow
		if err := json.Unmarshal(iter.Value(), &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal vote row %s: %w", iter.Key(), err)
		}
		rows = append(rows, row)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("error iterating votes: %w", err)
	}
	return rows, nil
}

func (s *VoteStore) Count() (int, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(voteKeyPrefix)), nil)
	defer iter.Release()

	n := 0
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

package service

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"election-ledger/blockchain/ledger"
	"election-ledger/encryption"
	"election-ledger/models"
	"election-ledger/registry"
)

var (
	ErrSessionClosed = errors.New("voting session has ended")
	ErrAlreadyVoted  = errors.New("voter has already voted")
)

// VoteStore is the durable side of the vote-casting path.
type VoteStore interface {
	SaveVote(row models.VoteRow) error
	HasVoted(voterID string) (bool, error)
	GetByVoter(voterID string) (*models.VoteRow, error)
	All() ([]models.VoteRow, error)
}

// VoteListener is notified after a vote has been sealed and persisted.
type VoteListener func(block models.Block, receipt models.Receipt)

type Options struct {
	Ledger  *ledger.Ledger
	Store   VoteStore
	Roll    registry.Roll
	Crypto  *encryption.CryptoService
	Session *VotingSession
}

// VotingService is the vote-casting path in front of the ledger. It enforces
// one vote per voter and keeps the vote store in agreement with the chain.
type VotingService struct {
	ledger       *ledger.Ledger
	store        VoteStore
	roll         registry.Roll
	crypto       *encryption.CryptoService
	session      *VotingSession
	verification *VoterVerificationService
	counting     *VoteCountingService

	// mu serializes the already-voted check with the ledger append and the store write.
	mu sync.Mutex
	// sealed holds voters whose vote reached the ledger, even if the store
	// write that followed failed. Guarded by mu.
	sealed map[string]bool

	listeners []VoteListener
	lmu       sync.RWMutex
}

// ReceiptVerification is the outcome of checking a receipt against the key and the chain.
type ReceiptVerification struct {
	SignatureValid bool   `json:"signature_valid"`
	OnChain        bool   `json:"on_chain"`
	ChainValid     bool   `json:"chain_valid"`
	Error          string `json:"error,omitempty"`
}

func (rv ReceiptVerification) Valid() bool {
	return rv.SignatureValid && rv.OnChain && rv.ChainValid
}

func NewVotingService(opts Options) (*VotingService, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("ledger is required")
	case opts.Store == nil:
		return nil, errors.New("vote store is required")
	case opts.Roll == nil:
		return nil, errors.New("voter roll is required")
	case opts.Crypto == nil:
		return nil, errors.New("crypto service is required")
	case opts.Session == nil:
		return nil, errors.New("voting session is required")
	}

	vs := &VotingService{
		ledger:       opts.Ledger,
		store:        opts.Store,
		roll:         opts.Roll,
		crypto:       opts.Crypto,
		session:      opts.Session,
		verification: NewVoterVerificationService(opts.Roll),
		sealed:       make(map[string]bool),
	}
	vs.counting = NewVoteCountingService(opts.Ledger, opts.Store, opts.Roll)
	ChainLength.Set(float64(opts.Ledger.Len()))
	return vs, nil
}

// OnVoteRecorded registers a listener for sealed votes.
func (vs *VotingService) OnVoteRecorded(fn VoteListener) {
	vs.lmu.Lock()
	defer vs.lmu.Unlock()
	vs.listeners = append(vs.listeners, fn)
}

// CastVote records a vote in the ledger and persists the signed receipt. A vote
// row is only written once the ledger has sealed the block.
func (vs *VotingService) CastVote(voterID string, candidateID int) (*models.Receipt, error) {
	if !vs.session.IsActive() {
		VotesRejected.WithLabelValues("session_closed").Inc()
		return nil, ErrSessionClosed
	}

	if _, _, err := vs.verification.VerifyEligibility(voterID, candidateID); err != nil {
		VotesRejected.WithLabelValues("not_eligible").Inc()
		log.Printf("Rejected vote from %s: %v", voterID, err)
		return nil, err
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	voted := vs.sealed[voterID]
	if !voted {
		var err error
		if voted, err = vs.store.HasVoted(voterID); err != nil {
			VotesRejected.WithLabelValues("store_error").Inc()
			return nil, err
		}
	}
	if voted {
		VotesRejected.WithLabelValues("already_voted").Inc()
		log.Printf("Rejected vote from %s: already voted", voterID)
		return nil, ErrAlreadyVoted
	}

	tx, err := vs.ledger.RecordVote(voterID, candidateID)
	if err != nil {
		VotesRejected.WithLabelValues("ledger_error").Inc()
		return nil, fmt.Errorf("failed to record vote in ledger: %w", err)
	}
	vs.sealed[voterID] = true

	block, err := vs.ledger.BlockAt(tx.BlockNumber)
	if err != nil {
		return nil, vs.unpersisted(tx, err)
	}

	receipt, err := vs.crypto.SignReceipt(tx, block.Hash)
	if err != nil {
		return nil, vs.unpersisted(tx, err)
	}

	row := models.VoteRow{
		VoterID:     voterID,
		CandidateID: candidateID,
		CastAt:      tx.Timestamp,
		Receipt:     receipt,
	}
	if err := vs.store.SaveVote(row); err != nil {
		return nil, vs.unpersisted(tx, err)
	}

	VotesRecorded.Inc()
	log.Printf("Vote from %s recorded in block %d (tx %s)", voterID, tx.BlockNumber, tx.TransactionID)

	vs.lmu.RLock()
	for _, fn := range vs.listeners {
		fn(block, receipt)
	}
	vs.lmu.RUnlock()

	return &receipt, nil
}

// unpersisted reports a vote that is sealed in the ledger but missing from the store.
func (vs *VotingService) unpersisted(tx models.TransactionDescriptor, err error) error {
	VotesRejected.WithLabelValues("store_error").Inc()
	log.Printf("Warning: vote sealed in block %d (tx %s) was not persisted: %v", tx.BlockNumber, tx.TransactionID, err)
	return fmt.Errorf("failed to persist vote: %w", err)
}

// Receipt returns the stored receipt for a voter.
func (vs *VotingService) Receipt(voterID string) (*models.VoteRow, error) {
	return vs.store.GetByVoter(voterID)
}

// VerifyReceipt checks the signature and that the transaction sits in the named block.
func (vs *VotingService) VerifyReceipt(r models.Receipt) ReceiptVerification {
	var result ReceiptVerification

	ok, err := vs.crypto.VerifyReceipt(r)
	if err != nil {
		result.Error = err.Error()
	}
	result.SignatureValid = ok

	block, _, found := vs.ledger.FindTransaction(r.Transaction.TransactionID)
	result.OnChain = found &&
		block.Index == r.Transaction.BlockNumber &&
		block.Hash == r.BlockHash &&
		block.Timestamp.Equal(r.Transaction.Timestamp)

	if err := vs.ledger.Validate(); err != nil {
		result.ChainValid = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	} else {
		result.ChainValid = true
	}
	return result
}

func (vs *VotingService) Chain() []models.Block {
	return vs.ledger.GetChain()
}

func (vs *VotingService) Block(index uint64) (models.Block, error) {
	return vs.ledger.BlockAt(index)
}

func (vs *VotingService) ValidateChain() error {
	return vs.ledger.Validate()
}

func (vs *VotingService) Difficulty() int {
	return vs.ledger.Difficulty()
}

func (vs *VotingService) Candidates(constituency string) []models.Candidate {
	if constituency == "" {
		return vs.roll.AllCandidates()
	}
	return vs.roll.CandidatesByConstituency(constituency)
}

func (vs *VotingService) Counting() *VoteCountingService {
	return vs.counting
}

func (vs *VotingService) Signer() string {
	return vs.crypto.Address()
}

func (vs *VotingService) IsVotingActive() bool {
	return vs.session.IsActive()
}

func (vs *VotingService) SessionEndsAt() time.Time {
	return vs.session.EndsAt()
}

func (vs *VotingService) EndVotingSession() {
	vs.session.End()
	log.Printf("Voting session ended with %d blocks in the ledger", vs.ledger.Len())
}

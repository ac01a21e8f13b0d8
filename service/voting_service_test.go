package service

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"election-ledger/blockchain/ledger"
	"election-ledger/encryption"
	"election-ledger/models"
	"election-ledger/registry"
	"election-ledger/storage"
)

type fixture struct {
	ledger  *ledger.Ledger
	store   *storage.VoteStore
	session *VotingSession
	service *VotingService
	dir     string
}

func writeRoll(t *testing.T, path string) {
	t.Helper()
	roll := map[string]any{
		"voters": []models.Voter{
			{VoterID: "A", Name: "Ada", Constituency: "North", IsActive: true},
			{VoterID: "B", Name: "Bo", Constituency: "North", IsActive: true},
			{VoterID: "C", Name: "Cy", Constituency: "North", IsActive: true},
			{VoterID: "D", Name: "Di", Constituency: "South", IsActive: true},
			{VoterID: "X", Name: "Ex", Constituency: "North", IsActive: false},
		},
		"candidates": []models.Candidate{
			{ID: 1, Name: "One", PartyShortName: "P1", Constituency: "North"},
			{ID: 2, Name: "Two", PartyShortName: "P2", Constituency: "North"},
			{ID: 3, Name: "Three", PartyShortName: "P3", Constituency: "South"},
		},
	}
	data, err := json.Marshal(roll)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()
	dir := t.TempDir()

	rollPath := filepath.Join(dir, "roll.json")
	writeRoll(t, rollPath)
	roll, err := registry.NewFileRoll(registry.Config{RollFilePath: rollPath})
	require.NoError(t, err)

	store, err := storage.NewVoteStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := encryption.LoadOrGenerateKey(dir)
	require.NoError(t, err)

	l := ledger.New(cfg)
	session := NewVotingSession(time.Hour)

	vs, err := NewVotingService(Options{
		Ledger:  l,
		Store:   store,
		Roll:    roll,
		Crypto:  encryption.NewCryptoService(key),
		Session: session,
	})
	require.NoError(t, err)

	return &fixture{ledger: l, store: store, session: session, service: vs, dir: dir}
}

func TestNewVotingServiceRequiresDependencies(t *testing.T) {
	_, err := NewVotingService(Options{})
	require.Error(t, err)
}

func TestCastVote(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	var notified []uint64
	f.service.OnVoteRecorded(func(b models.Block, r models.Receipt) {
		require.Equal(t, b.Hash, r.BlockHash)
		notified = append(notified, b.Index)
	})

	receipt, err := f.service.CastVote("A", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, receipt.Transaction.BlockNumber)
	require.Equal(t, f.service.Signer(), receipt.Signer)
	require.Equal(t, []uint64{1}, notified)

	row, err := f.service.Receipt("A")
	require.NoError(t, err)
	require.Equal(t, *receipt, row.Receipt)
	require.Equal(t, 1, row.CandidateID)

	verification := f.service.VerifyReceipt(*receipt)
	require.True(t, verification.Valid(), "%+v", verification)

	block, err := f.service.Block(1)
	require.NoError(t, err)
	require.Equal(t, receipt.Transaction.TransactionID, block.Votes[0].TransactionID)
	require.NoError(t, f.service.ValidateChain())
}

func TestCastVoteRejectsSecondVote(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	_, err := f.service.CastVote("A", 1)
	require.NoError(t, err)

	_, err = f.service.CastVote("A", 2)
	require.ErrorIs(t, err, ErrAlreadyVoted)
	require.Equal(t, 2, f.ledger.Len(), "ledger must not see the second vote")
}

func TestCastVoteEligibility(t *testing.T) {
	f := newFixture(t, ledger.Config{})

	cases := map[string]struct {
		voter     string
		candidate int
	}{
		"UnknownVoter":      {"Z", 1},
		"InactiveVoter":     {"X", 1},
		"UnknownCandidate":  {"A", 9},
		"OtherConstituency": {"A", 3},
		"EmptyVoter":        {"", 1},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.CastVote(tc.voter, tc.candidate)
			require.ErrorIs(t, err, ErrNotEligible)
		})
	}
	require.Equal(t, 1, f.ledger.Len())
}

func TestCastVoteAfterSessionEnds(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	f.service.EndVotingSession()

	require.False(t, f.service.IsVotingActive())
	_, err := f.service.CastVote("A", 1)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	session := newVotingSessionAt(clock, time.Hour)

	require.True(t, session.IsActive())
	now = now.Add(2 * time.Hour)
	require.False(t, session.IsActive())
}

func TestLedgerFailurePersistsNothing(t *testing.T) {
	f := newFixture(t, ledger.Config{Difficulty: 64, MaxAttempts: 1})

	_, err := f.service.CastVote("A", 1)
	require.ErrorIs(t, err, models.ErrMiningFailure)

	voted, err := f.store.HasVoted("A")
	require.NoError(t, err)
	require.False(t, voted)
	require.Equal(t, 1, f.ledger.Len())
}

func TestVerifyReceiptRejectsForgery(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	receipt, err := f.service.CastVote("A", 1)
	require.NoError(t, err)
	_, err = f.service.CastVote("B", 2)
	require.NoError(t, err)

	forged := *receipt
	forged.Transaction.BlockNumber = 2
	v := f.service.VerifyReceipt(forged)
	require.False(t, v.SignatureValid)
	require.False(t, v.OnChain)
	require.True(t, v.ChainValid)
	require.False(t, v.Valid())
}

func TestCountingAndVerification(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	for voter, candidate := range map[string]int{"A": 2, "B": 2, "C": 1} {
		_, err := f.service.CastVote(voter, candidate)
		require.NoError(t, err)
	}

	tally := f.service.Counting().CountVotes()
	require.Equal(t, 3, tally.TotalVotes)
	require.Equal(t, map[int]int{1: 1, 2: 2}, tally.Results)
	require.Equal(t, 4, tally.Blocks)

	results := f.service.Counting().Results("North")
	require.Len(t, results, 2)
	require.Equal(t, 2, results[0].CandidateID)
	require.Equal(t, 66.7, results[0].Percentage)
	require.Equal(t, 33.3, results[1].Percentage)

	all := f.service.Counting().Results("")
	require.Len(t, all, 3)
	require.Equal(t, 0, all[2].VoteCount)

	verification, err := f.service.Counting().VerifyVoteCount()
	require.NoError(t, err)
	require.True(t, verification.IsValid, "%+v", verification)
	require.Equal(t, 3, verification.LedgerVotes)

	// A row written behind the ledger's back must be flagged.
	require.NoError(t, f.store.SaveVote(models.VoteRow{
		VoterID:     "D",
		CandidateID: 3,
		Receipt:     models.Receipt{Transaction: models.TransactionDescriptor{TransactionID: "ghost", BlockNumber: 9}},
	}))
	verification, err = f.service.Counting().VerifyVoteCount()
	require.NoError(t, err)
	require.False(t, verification.IsValid)
	require.Len(t, verification.Mismatches, 1)
	require.Contains(t, verification.Mismatches[0], "ghost")
}

func TestCandidates(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	require.Len(t, f.service.Candidates(""), 3)
	require.Len(t, f.service.Candidates("South"), 1)
}

// brokenStore accepts lookups but fails every write.
type brokenStore struct {
	*storage.VoteStore
}

func (brokenStore) SaveVote(models.VoteRow) error {
	return errors.New("disk full")
}

func TestSealedVoteBlocksRevoteWhenStoreFails(t *testing.T) {
	f := newFixture(t, ledger.Config{})
	key, err := encryption.LoadOrGenerateKey(f.dir)
	require.NoError(t, err)
	roll, err := registry.NewFileRoll(registry.Config{RollFilePath: filepath.Join(f.dir, "roll.json")})
	require.NoError(t, err)

	vs, err := NewVotingService(Options{
		Ledger:  f.ledger,
		Store:   brokenStore{f.store},
		Roll:    roll,
		Crypto:  encryption.NewCryptoService(key),
		Session: f.session,
	})
	require.NoError(t, err)

	_, err = vs.CastVote("A", 1)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 2, f.ledger.Len(), "the block was sealed before the write failed")

	_, err = vs.CastVote("A", 2)
	require.ErrorIs(t, err, ErrAlreadyVoted)
	require.Equal(t, 2, f.ledger.Len())
	require.Equal(t, 1, vs.Counting().CountVotes().TotalVotes)
}

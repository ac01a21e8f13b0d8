package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"election-ledger/models"
)

func newVoteRow(voterID, txID string, block uint64) models.VoteRow {
	return models.VoteRow{
		VoterID:     voterID,
		CandidateID: 2,
		CastAt:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Receipt: models.Receipt{
			Transaction: models.TransactionDescriptor{TransactionID: txID, BlockNumber: block},
			BlockHash:   "00ff",
		},
	}
}

func TestVoteStore(t *testing.T) {
	store, err := NewVoteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	voted, err := store.HasVoted("VOT1")
	require.NoError(t, err)
	require.False(t, voted)

	require.NoError(t, store.SaveVote(newVoteRow("VOT1", "tx1", 1)))
	require.NoError(t, store.SaveVote(newVoteRow("VOT2", "tx2", 2)))

	voted, err = store.HasVoted("VOT1")
	require.NoError(t, err)
	require.True(t, voted)

	row, err := store.GetByTransaction("tx2")
	require.NoError(t, err)
	require.Equal(t, "VOT2", row.VoterID)
	require.EqualValues(t, 2, row.Receipt.Transaction.BlockNumber)

	_, err = store.GetByVoter("VOT9")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByTransaction("tx9")
	require.ErrorIs(t, err, ErrNotFound)

	t.Run("DuplicateVoter", func(t *testing.T) {
		require.ErrorIs(t, store.SaveVote(newVoteRow("VOT1", "tx3", 3)), ErrDuplicateVote)
	})

	t.Run("DuplicateTransaction", func(t *testing.T) {
		require.ErrorIs(t, store.SaveVote(newVoteRow("VOT3", "tx1", 3)), ErrDuplicateVote)
	})

	rows, err := store.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "VOT1", rows[0].VoterID)

	n, err := store.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestVoteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewVoteStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveVote(newVoteRow("VOT1", "tx1", 1)))
	require.NoError(t, store.Close())

	store, err = NewVoteStore(dir)
	require.NoError(t, err)
	defer store.Close()

	row, err := store.GetByVoter("VOT1")
	require.NoError(t, err)
	require.Equal(t, "tx1", row.Receipt.Transaction.TransactionID)
}

func TestAuditArchiveKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewAuditArchive(dir, 2)
	require.NoError(t, err)

	_, err = archive.LatestReport()
	require.ErrorIs(t, err, ErrNotFound)

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, archive.SaveReport(&models.AuditReport{
			ID:          string(rune('a' + i)),
			At:          start.Add(time.Duration(i) * time.Millisecond),
			ChainLength: i + 1,
			Valid:       true,
		}))
	}

	files, err := filepath.Glob(filepath.Join(dir, reportPattern))
	require.NoError(t, err)
	require.Len(t, files, 2)

	latest, err := archive.LatestReport()
	require.NoError(t, err)
	require.Equal(t, "d", latest.ID)
	require.Equal(t, 4, latest.ChainLength)
}

package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"election-ledger/models"
)

// stepClock returns a clock that advances one millisecond per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(Config{Clock: stepClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))})
}

func TestGenesisBlock(t *testing.T) {
	l := newTestLedger(t)

	chain := l.GetChain()
	require.Len(t, chain, 1)

	genesis := chain[0]
	require.EqualValues(t, 0, genesis.Index)
	require.Equal(t, models.GenesisPreviousHash, genesis.PreviousHash)
	require.Empty(t, genesis.Votes)
	require.Equal(t, genesis.CalculateHash(), genesis.Hash)
	require.True(t, l.IsChainValid())
}

func TestGenesisIsNotMined(t *testing.T) {
	// Find a start time whose genesis hash misses the work target.
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	var l *Ledger
	for i := 0; i < 1000; i++ {
		l = New(Config{Clock: stepClock(start.Add(time.Duration(i) * time.Second))})
		if !models.MeetsTarget(l.Latest().Hash, l.Difficulty()) {
			break
		}
	}
	require.False(t, models.MeetsTarget(l.Latest().Hash, l.Difficulty()))
	require.EqualValues(t, 0, l.Latest().Nonce)
	require.True(t, l.IsChainValid())
}

func TestRecordVote(t *testing.T) {
	l := newTestLedger(t)

	tx, err := l.RecordVote("VOT1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 1, tx.BlockNumber)
	require.Len(t, tx.TransactionID, 64)

	block, err := l.BlockAt(1)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(block.Hash, "00"))
	require.Equal(t, tx.Timestamp, block.Timestamp)
	require.Equal(t, []models.VoteRecord{{VoterID: "VOT1", CandidateID: 3, TransactionID: tx.TransactionID}}, block.Votes)
}

func TestRecordVoteRejectsEmptyVoter(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.RecordVote("", 1)
	require.ErrorIs(t, err, ErrInvalidInput)
	require.Equal(t, 1, l.Len())
}

func TestRecordVoteMiningTimeout(t *testing.T) {
	l := New(Config{Difficulty: 64, MaxAttempts: 10})

	_, err := l.RecordVote("VOT1", 1)
	require.ErrorIs(t, err, models.ErrMiningFailure)
	require.Equal(t, 1, l.Len(), "failed mining must not append")
	require.True(t, l.IsChainValid())
}

func TestChainProperties(t *testing.T) {
	l := newTestLedger(t)

	for i := 0; i < 10; i++ {
		before := l.Len()
		tx, err := l.RecordVote(fmt.Sprintf("VOT%d", i), i%4)
		require.NoError(t, err)
		require.Equal(t, before+1, l.Len())
		require.EqualValues(t, l.Len()-1, tx.BlockNumber)
	}

	chain := l.GetChain()
	for n, block := range chain {
		require.EqualValues(t, n, block.Index)
		require.Equal(t, block.CalculateHash(), block.Hash, "hash integrity at %d", n)
		if n == 0 {
			continue
		}
		require.Equal(t, chain[n-1].Hash, block.PreviousHash, "linkage at %d", n)
		require.True(t, strings.HasPrefix(block.Hash, strings.Repeat("0", l.Difficulty())), "work at %d", n)
		require.Len(t, block.Votes, 1)
	}
	require.True(t, l.IsChainValid())
}

func TestDuplicateVoterIsAccepted(t *testing.T) {
	l := newTestLedger(t)

	first, err := l.RecordVote("VOT1", 3)
	require.NoError(t, err)
	second, err := l.RecordVote("VOT1", 3)
	require.NoError(t, err)

	require.NotEqual(t, first.TransactionID, second.TransactionID)
	require.Greater(t, second.BlockNumber, first.BlockNumber)
	require.True(t, l.IsChainValid())
}

func TestTamperDetection(t *testing.T) {
	l := newTestLedger(t)
	for _, voter := range []string{"A", "B", "C"} {
		_, err := l.RecordVote(voter, 1)
		require.NoError(t, err)
	}
	require.True(t, l.IsChainValid())

	l.chain[2].Votes[0].CandidateID ^= 1

	require.False(t, l.IsChainValid())
	err := l.Validate()
	require.ErrorIs(t, err, models.ErrChainCorruption)
	require.Contains(t, err.Error(), "block 2")

	require.Equal(t, l.chain[1].CalculateHash(), l.chain[1].Hash)
	require.Equal(t, l.chain[3].CalculateHash(), l.chain[3].Hash)
	require.NotEqual(t, l.chain[2].CalculateHash(), l.chain[2].Hash)
}

func TestTamperEachField(t *testing.T) {
	tampers := map[string]func(b *models.Block){
		"Index":        func(b *models.Block) { b.Index += 7 },
		"Timestamp":    func(b *models.Block) { b.Timestamp = b.Timestamp.Add(time.Second) },
		"VoterID":      func(b *models.Block) { b.Votes[0].VoterID = "MALLORY" },
		"Transaction":  func(b *models.Block) { b.Votes[0].TransactionID = "00" },
		"PreviousHash": func(b *models.Block) { b.PreviousHash = strings.Repeat("0", 64) },
		"Nonce":        func(b *models.Block) { b.Nonce++ },
		"Hash":         func(b *models.Block) { b.Hash = "00" + b.Hash[2:len(b.Hash)-1] + "x" },
	}

	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			l := newTestLedger(t)
			for i := 0; i < 3; i++ {
				_, err := l.RecordVote(fmt.Sprintf("VOT%d", i), i)
				require.NoError(t, err)
			}

			tamper(&l.chain[2])
			require.False(t, l.IsChainValid())
		})
	}
}

func TestGetChainReturnsCopy(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.RecordVote("VOT1", 3)
	require.NoError(t, err)

	chain := l.GetChain()
	chain[1].Votes[0].CandidateID = 99
	chain[1].Hash = "tampered"

	require.True(t, l.IsChainValid())
	require.Equal(t, 3, l.GetChain()[1].Votes[0].CandidateID)
}

func TestConcurrentRecordVote(t *testing.T) {
	l := New(Config{})

	const voters = 25
	var wg sync.WaitGroup
	numbers := make(chan uint64, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := l.RecordVote(fmt.Sprintf("VOT%d", i), i)
			if err != nil {
				t.Errorf("RecordVote: %v", err)
				return
			}
			numbers <- tx.BlockNumber
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[uint64]bool)
	for n := range numbers {
		require.False(t, seen[n], "block number %d returned twice", n)
		seen[n] = true
	}
	require.Len(t, seen, voters)
	require.Equal(t, voters+1, l.Len())
	require.True(t, l.IsChainValid())
}

func TestFindTransactionAndBlockAt(t *testing.T) {
	l := newTestLedger(t)
	tx, err := l.RecordVote("VOT1", 2)
	require.NoError(t, err)

	block, vote, ok := l.FindTransaction(tx.TransactionID)
	require.True(t, ok)
	require.EqualValues(t, tx.BlockNumber, block.Index)
	require.Equal(t, "VOT1", vote.VoterID)

	_, _, ok = l.FindTransaction("missing")
	require.False(t, ok)

	_, err = l.BlockAt(5)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestOnSealedHook(t *testing.T) {
	var sealed []uint64
	l := New(Config{OnSealed: func(b models.Block, attempts uint64, _ time.Duration) {
		require.Equal(t, b.Nonce+1, attempts)
		sealed = append(sealed, b.Index)
	}})

	for i := 0; i < 3; i++ {
		_, err := l.RecordVote("VOT", i)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1, 2, 3}, sealed)
}

func TestDifficultyIsBounded(t *testing.T) {
	cases := map[string]struct {
		in, want int
	}{
		"Zero":     {0, DefaultDifficulty},
		"Negative": {-3, DefaultDifficulty},
		"InRange":  {3, 3},
		"TooLarge": {65, MaxDifficulty},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, New(Config{Difficulty: tc.in}).Difficulty())
		})
	}
}

func TestNegativeDifficultyStillMines(t *testing.T) {
	l := New(Config{Difficulty: -3})

	_, err := l.RecordVote("VOT1", 1)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(l.Latest().Hash, strings.Repeat("0", DefaultDifficulty)))
	require.NoError(t, l.Validate())
}

func TestTimestampsSurviveJSON(t *testing.T) {
	local := time.FixedZone("IST", 5*3600+1800)
	l := New(Config{Clock: func() time.Time { return time.Now().In(local) }})

	tx, err := l.RecordVote("VOT1", 2)
	require.NoError(t, err)

	block := l.Latest()
	require.Equal(t, time.UTC, block.Timestamp.Location())
	require.Equal(t, block.Timestamp, tx.Timestamp)

	data, err := json.Marshal(tx)
	require.NoError(t, err)
	var decoded models.TransactionDescriptor
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, tx, decoded)
}

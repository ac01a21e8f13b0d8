package service

import (
	"fmt"
	"math"
	"sort"

	"election-ledger/blockchain/ledger"
	"election-ledger/models"
	"election-ledger/registry"
)

// VoteCountingService tallies votes from the ledger, which it only reads.
type VoteCountingService struct {
	ledger *ledger.Ledger
	store  VoteStore
	roll   registry.Roll
}

// VotingResults is the raw tally per candidate id.
type VotingResults struct {
	TotalVotes int         `json:"total_votes"`
	Results    map[int]int `json:"results"`
	Blocks     int         `json:"blocks"`
}

type CandidateResult struct {
	CandidateID    int     `json:"candidate_id"`
	CandidateName  string  `json:"candidate_name"`
	PartyName      string  `json:"party_name"`
	PartyShortName string  `json:"party_short_name"`
	PartyColor     string  `json:"party_color"`
	Constituency   string  `json:"constituency"`
	VoteCount      int     `json:"vote_count"`
	Percentage     float64 `json:"percentage"`
}

// VoteVerification compares the ledger with the vote store.
type VoteVerification struct {
	LedgerVotes int      `json:"ledger_votes"`
	StoredVotes int      `json:"stored_votes"`
	ChainValid  bool     `json:"chain_valid"`
	Mismatches  []string `json:"mismatches,omitempty"`
	IsValid     bool     `json:"is_valid"`
}

func NewVoteCountingService(l *ledger.Ledger, store VoteStore, roll registry.Roll) *VoteCountingService {
	return &VoteCountingService{ledger: l, store: store, roll: roll}
}

// CountVotes counts every vote recorded in the ledger.
func (vcs *VoteCountingService) CountVotes() *VotingResults {
	chain := vcs.ledger.GetChain()

	results := &VotingResults{Results: make(map[int]int), Blocks: len(chain)}
	for _, block := range chain[1:] {
		for _, v := range block.Votes {
			results.Results[v.CandidateID]++
			results.TotalVotes++
		}
	}
	return results
}

// Results joins the tally with candidate details, most votes first. An empty
// constituency returns every candidate.
func (vcs *VoteCountingService) Results(constituency string) []CandidateResult {
	tally := vcs.CountVotes()

	candidates := vcs.roll.AllCandidates()
	if constituency != "" {
		candidates = vcs.roll.CandidatesByConstituency(constituency)
	}

	out := make([]CandidateResult, 0, len(candidates))
	for _, c := range candidates {
		count := tally.Results[c.ID]
		var pct float64
		if tally.TotalVotes > 0 {
			pct = math.Round(float64(count)/float64(tally.TotalVotes)*1000) / 10
		}
		out = append(out, CandidateResult{
			CandidateID:    c.ID,
			CandidateName:  c.Name,
			PartyName:      c.PartyName,
			PartyShortName: c.PartyShortName,
			PartyColor:     c.PartyColor,
			Constituency:   c.Constituency,
			VoteCount:      count,
			Percentage:     pct,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].VoteCount > out[j].VoteCount })
	return out
}

// VerifyVoteCount checks that every stored vote row is backed by the ledger and
// that every ledger vote has a stored row.
func (vcs *VoteCountingService) VerifyVoteCount() (*VoteVerification, error) {
	chain := vcs.ledger.GetChain()
	rows, err := vcs.store.All()
	if err != nil {
		return nil, err
	}

	v := &VoteVerification{
		StoredVotes: len(rows),
		ChainValid:  models.ValidateChain(chain, vcs.ledger.Difficulty()) == nil,
	}

	onChain := make(map[string]models.VoteRecord)
	blockOf := make(map[string]uint64)
	for _, block := range chain[1:] {
		for _, rec := range block.Votes {
			onChain[rec.TransactionID] = rec
			blockOf[rec.TransactionID] = block.Index
			v.LedgerVotes++
		}
	}

	stored := make(map[string]bool, len(rows))
	for _, row := range rows {
		txID := row.Receipt.Transaction.TransactionID
		stored[txID] = true

		rec, ok := onChain[txID]
		switch {
		case !ok:
			v.Mismatches = append(v.Mismatches, fmt.Sprintf("transaction %s of voter %s is not in the ledger", txID, row.VoterID))
		case rec.VoterID != row.VoterID || rec.CandidateID != row.CandidateID:
			v.Mismatches = append(v.Mismatches, fmt.Sprintf("transaction %s differs between store and ledger", txID))
		case blockOf[txID] != row.Receipt.Transaction.BlockNumber:
			v.Mismatches = append(v.Mismatches, fmt.Sprintf("transaction %s stored with block %d, ledger has %d", txID, row.Receipt.Transaction.BlockNumber, blockOf[txID]))
		}
	}

	for txID, rec := range onChain {
		if !stored[txID] {
			v.Mismatches = append(v.Mismatches, fmt.Sprintf("ledger transaction %s of voter %s has no stored row", txID, rec.VoterID))
		}
	}
	sort.Strings(v.Mismatches)

	v.IsValid = v.ChainValid && len(v.Mismatches) == 0 && v.LedgerVotes == v.StoredVotes
	return v, nil
}

package service

import (
	"errors"
	"fmt"

	"election-ledger/models"
	"election-ledger/registry"
)

// ErrNotEligible wraps every reason a voter may not cast a given ballot.
var ErrNotEligible = errors.New("voter not eligible")

type VoterVerificationService struct {
	roll registry.Roll
}

func NewVoterVerificationService(roll registry.Roll) *VoterVerificationService {
	return &VoterVerificationService{roll: roll}
}

// VerifyEligibility checks the voter against the roll and the candidate's constituency.
// Whether the voter has already voted is decided by the vote store, not here.
func (vvs *VoterVerificationService) VerifyEligibility(voterID string, candidateID int) (*models.Voter, *models.Candidate, error) {
	if voterID == "" {
		return nil, nil, fmt.Errorf("%w: voter id is required", ErrNotEligible)
	}

	voter, err := vvs.roll.GetVoter(voterID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotEligible, err)
	}

	candidate, err := vvs.roll.GetCandidate(candidateID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotEligible, err)
	}

	if candidate.Constituency != voter.Constituency {
		return nil, nil, fmt.Errorf("%w: candidate %d stands in %s, voter %s is registered in %s",
			ErrNotEligible, candidate.ID, candidate.Constituency, voter.VoterID, voter.Constituency)
	}

	return voter, candidate, nil
}

package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"election-ledger/models"
	"election-ledger/registry"
)

const adminTokenHeader = "X-Admin-Token"

// adminOnly guards the roll-editing routes. With no token configured they are closed.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || s.roll == nil {
			http.Error(w, "Admin API is disabled", http.StatusForbidden)
			return
		}
		given := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(s.adminToken)) != 1 {
			http.Error(w, "Invalid admin token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rollErrorStatus(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidEntry):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrVoterNotFound), errors.Is(err, registry.ErrCandidateNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrVoterExists), errors.Is(err, registry.ErrCandidateExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListVoters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.roll.Voters())
}

func (s *Server) handleAddVoter(w http.ResponseWriter, r *http.Request) {
	var voter models.Voter
	if err := json.NewDecoder(r.Body).Decode(&voter); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.roll.AddVoter(voter); err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin registered voter %s in %s", voter.VoterID, voter.Constituency)
	writeJSON(w, http.StatusCreated, voter)
}

func (s *Server) handleUpdateVoter(w http.ResponseWriter, r *http.Request) {
	var voter models.Voter
	if err := json.NewDecoder(r.Body).Decode(&voter); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	voter.VoterID = mux.Vars(r)["voterID"]

	if err := s.roll.UpdateVoter(voter); err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin updated voter %s (active=%t)", voter.VoterID, voter.IsActive)
	writeJSON(w, http.StatusOK, voter)
}

func (s *Server) handleRemoveVoter(w http.ResponseWriter, r *http.Request) {
	voterID := mux.Vars(r)["voterID"]
	if err := s.roll.RemoveVoter(voterID); err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin removed voter %s", voterID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	var candidate models.Candidate
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	added, err := s.roll.AddCandidate(candidate)
	if err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin added candidate %d (%s) in %s", added.ID, added.Name, added.Constituency)
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid candidate id", http.StatusBadRequest)
		return
	}

	var candidate models.Candidate
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	candidate.ID = id

	if err := s.roll.UpdateCandidate(candidate); err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin updated candidate %d", id)
	writeJSON(w, http.StatusOK, candidate)
}

// handleRemoveCandidate refuses candidates that already hold votes, since the
// ledger keeps those votes and results would lose their name.
func (s *Server) handleRemoveCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid candidate id", http.StatusBadRequest)
		return
	}

	if n := s.votingService.Counting().CountVotes().Results[id]; n > 0 {
		http.Error(w, "Candidate has "+strconv.Itoa(n)+" recorded votes", http.StatusConflict)
		return
	}

	if err := s.roll.RemoveCandidate(id); err != nil {
		http.Error(w, err.Error(), rollErrorStatus(err))
		return
	}
	log.Printf("Admin removed candidate %d", id)
	w.WriteHeader(http.StatusNoContent)
}

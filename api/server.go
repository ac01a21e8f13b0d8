// File: api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"election-ledger/models"
	"election-ledger/registry"
	"election-ledger/service"
	"election-ledger/storage"
)

type Options struct {
	Voting  *service.VotingService
	Queue   *service.VoteQueue
	Auditor *service.Auditor
	Archive *storage.AuditArchive
	// Limiter throttles POST /api/vote. Nil disables throttling.
	Limiter *rate.Limiter
	// Roll backs the /api/admin routes, which also need AdminToken.
	Roll       *registry.FileRoll
	AdminToken string
}

type Server struct {
	votingService *service.VotingService
	queue         *service.VoteQueue
	auditor       *service.Auditor
	archive       *storage.AuditArchive
	limiter       *rate.Limiter
	roll          *registry.FileRoll
	adminToken    string
	hub           *BlockHub
	router        *mux.Router
}

type CastVoteRequest struct {
	VoterID     string `json:"voter_id"`
	CandidateID int    `json:"candidate_id"`
}

type BlockchainResponse struct {
	BlockCount int            `json:"block_count"`
	Difficulty int            `json:"difficulty"`
	Blocks     []models.Block `json:"blocks"`
	IsValid    bool           `json:"is_valid"`
	LastHash   string         `json:"last_hash"`
}

type BlockVerification struct {
	CalculatedHash string `json:"calculated_hash"`
	StoredHash     string `json:"stored_hash"`
	HashMatch      bool   `json:"hash_match"`
	MeetsTarget    bool   `json:"meets_target"`
}

type BlockDetailsResponse struct {
	Block        models.Block      `json:"block"`
	IsValid      bool              `json:"is_valid"`
	Verification BlockVerification `json:"verification"`
}

type ValidationResponse struct {
	IsValid    bool   `json:"is_valid"`
	BlockCount int    `json:"block_count"`
	Error      string `json:"error,omitempty"`
	BadIndex   *int   `json:"bad_index,omitempty"`
}

type StatusResponse struct {
	VotingActive  bool               `json:"voting_active"`
	SessionEndsAt time.Time          `json:"session_ends_at"`
	ChainLength   int                `json:"chain_length"`
	Difficulty    int                `json:"difficulty"`
	IsValid       bool               `json:"is_valid"`
	LastHash      string             `json:"last_hash"`
	Signer        string             `json:"signer"`
	QueuedVotes   int                `json:"queued_votes"`
	Subscribers   int                `json:"subscribers"`
	Mining        models.MiningStats `json:"mining"`
}

func NewServer(opts Options) *Server {
	s := &Server{
		votingService: opts.Voting,
		queue:         opts.Queue,
		auditor:       opts.Auditor,
		archive:       opts.Archive,
		limiter:       opts.Limiter,
		roll:          opts.Roll,
		adminToken:    opts.AdminToken,
		hub:           NewBlockHub(),
		router:        mux.NewRouter(),
	}
	s.votingService.OnVoteRecorded(s.hub.Publish)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.HandleFunc("/api/vote", s.rateLimited(s.handleCastVote)).Methods("POST")
	r.HandleFunc("/api/votes/{voterID}", s.handleGetReceipt).Methods("GET")
	r.HandleFunc("/api/receipts/verify", s.handleVerifyReceipt).Methods("POST")
	r.HandleFunc("/api/candidates", s.handleGetCandidates).Methods("GET")
	r.HandleFunc("/api/status", s.handleGetStatus).Methods("GET")
	r.HandleFunc("/api/end-session", s.handleEndSession).Methods("POST")

	// Counting
	r.HandleFunc("/api/results", s.handleGetResults).Methods("GET")
	r.HandleFunc("/api/results/verify", s.handleVerifyCount).Methods("GET")

	// Chain
	r.HandleFunc("/api/blockchain", s.handleGetChain).Methods("GET")
	r.HandleFunc("/api/blockchain/block/{index:[0-9]+}", s.handleGetBlock).Methods("GET")
	r.HandleFunc("/api/blockchain/validate", s.handleValidateChain).Methods("GET")

	// Audit
	r.HandleFunc("/api/audit", s.handleRunAudit).Methods("POST")
	r.HandleFunc("/api/audit/latest", s.handleLatestAudit).Methods("GET")

	// Admin
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.adminOnly)
	admin.HandleFunc("/voters", s.handleListVoters).Methods("GET")
	admin.HandleFunc("/voters", s.handleAddVoter).Methods("POST")
	admin.HandleFunc("/voters/{voterID}", s.handleUpdateVoter).Methods("PUT")
	admin.HandleFunc("/voters/{voterID}", s.handleRemoveVoter).Methods("DELETE")
	admin.HandleFunc("/candidates", s.handleAddCandidate).Methods("POST")
	admin.HandleFunc("/candidates/{id:[0-9]+}", s.handleUpdateCandidate).Methods("PUT")
	admin.HandleFunc("/candidates/{id:[0-9]+}", s.handleRemoveCandidate).Methods("DELETE")

	r.HandleFunc("/ws/blocks", s.hub.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *BlockHub {
	return s.hub
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			service.VotesRejected.WithLabelValues("rate_limited").Inc()
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: Failed to encode response: %v", err)
	}
}

// voteErrorStatus maps vote-casting failures onto HTTP status codes.
func voteErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNotEligible), errors.Is(err, service.ErrSessionClosed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyVoted):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrQueueStopped),
		errors.Is(err, models.ErrMiningFailure),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.VoterID == "" {
		http.Error(w, "voter_id is required", http.StatusBadRequest)
		return
	}

	var (
		receipt *models.Receipt
		err     error
	)
	if s.queue != nil {
		receipt, err = s.queue.Submit(r.Context(), req.VoterID, req.CandidateID)
	} else {
		receipt, err = s.votingService.CastVote(req.VoterID, req.CandidateID)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Printf("Warning: client for voter %s left before the vote completed; it may still be sealed", req.VoterID)
	}
	if err != nil {
		http.Error(w, err.Error(), voteErrorStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	voterID := mux.Vars(r)["voterID"]

	row, err := s.votingService.Receipt(voterID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "No vote recorded for voter", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load receipt: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, row.Receipt)
}

func (s *Server) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt models.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	verification := s.votingService.VerifyReceipt(receipt)
	writeJSON(w, http.StatusOK, struct {
		service.ReceiptVerification
		Valid bool `json:"valid"`
	}{verification, verification.Valid()})
}

func (s *Server) handleGetCandidates(w http.ResponseWriter, r *http.Request) {
	candidates := s.votingService.Candidates(r.URL.Query().Get("constituency"))
	if candidates == nil {
		candidates = []models.Candidate{}
	}
	writeJSON(w, http.StatusOK, candidates)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	constituency := r.URL.Query().Get("constituency")
	counting := s.votingService.Counting()

	writeJSON(w, http.StatusOK, struct {
		TotalVotes int                       `json:"total_votes"`
		Results    []service.CandidateResult `json:"results"`
	}{
		TotalVotes: counting.CountVotes().TotalVotes,
		Results:    counting.Results(constituency),
	})
}

func (s *Server) handleVerifyCount(w http.ResponseWriter, r *http.Request) {
	verification, err := s.votingService.Counting().VerifyVoteCount()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to verify vote count: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, verification)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	chain := s.votingService.Chain()
	difficulty := s.votingService.Difficulty()

	writeJSON(w, http.StatusOK, BlockchainResponse{
		BlockCount: len(chain),
		Difficulty: difficulty,
		Blocks:     chain,
		IsValid:    models.ValidateChain(chain, difficulty) == nil,
		LastHash:   chain[len(chain)-1].Hash,
	})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid block index", http.StatusBadRequest)
		return
	}

	block, err := s.votingService.Block(index)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get block: %v", err), http.StatusNotFound)
		return
	}

	calculated := block.CalculateHash()
	difficulty := s.votingService.Difficulty()
	// Genesis is not mined, so only its hash is checked.
	meets := block.Index == 0 || models.MeetsTarget(block.Hash, difficulty)

	writeJSON(w, http.StatusOK, BlockDetailsResponse{
		Block:   block,
		IsValid: calculated == block.Hash && meets,
		Verification: BlockVerification{
			CalculatedHash: calculated,
			StoredHash:     block.Hash,
			HashMatch:      calculated == block.Hash,
			MeetsTarget:    meets,
		},
	})
}

func (s *Server) handleValidateChain(w http.ResponseWriter, r *http.Request) {
	chain := s.votingService.Chain()
	resp := ValidationResponse{IsValid: true, BlockCount: len(chain)}

	if err := models.ValidateChain(chain, s.votingService.Difficulty()); err != nil {
		resp.IsValid = false
		resp.Error = err.Error()
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			idx := int(verr.Index)
			resp.BadIndex = &idx
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		http.Error(w, "Auditing is disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.auditor.AuditOnce())
}

func (s *Server) handleLatestAudit(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "Audit archive is disabled", http.StatusServiceUnavailable)
		return
	}

	report, err := s.archive.LatestReport()
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "No audit has run yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to load audit report: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	chain := s.votingService.Chain()
	difficulty := s.votingService.Difficulty()

	resp := StatusResponse{
		VotingActive:  s.votingService.IsVotingActive(),
		SessionEndsAt: s.votingService.SessionEndsAt(),
		ChainLength:   len(chain),
		Difficulty:    difficulty,
		IsValid:       models.ValidateChain(chain, difficulty) == nil,
		LastHash:      chain[len(chain)-1].Hash,
		Signer:        s.votingService.Signer(),
		Subscribers:   s.hub.Subscribers(),
		Mining:        service.ComputeMiningStats(chain, difficulty),
	}
	if s.queue != nil {
		resp.QueuedVotes = s.queue.Pending()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.votingService.EndVotingSession()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

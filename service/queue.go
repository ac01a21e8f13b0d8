// service/queue.go
package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"election-ledger/models"
)

var (
	ErrQueueFull    = errors.New("vote queue is full")
	ErrQueueStopped = errors.New("vote queue is stopped")
)

// VoteQueue funnels every vote through a single worker goroutine, so votes
// are sealed in the order they leave the queue.
type VoteQueue struct {
	votingService *VotingService
	voteCh        chan *VoteRequest
	shutdownCh    chan struct{}
	processingWg  sync.WaitGroup
	stopOnce      sync.Once

	// mu orders enqueues against Stop so no request is left unanswered.
	mu      sync.RWMutex
	stopped bool
}

// VoteRequest represents a queued vote casting request
type VoteRequest struct {
	ID          string
	VoterID     string
	CandidateID int
	QueuedAt    time.Time
	ResultCh    chan *ProcessingResult
}

// ProcessingResult contains the result of a queued vote
type ProcessingResult struct {
	RequestID string
	Receipt   *models.Receipt
	Err       error
}

func NewVoteQueue(votingService *VotingService, queueSize int) *VoteQueue {
	return &VoteQueue{
		votingService: votingService,
		voteCh:        make(chan *VoteRequest, queueSize),
		shutdownCh:    make(chan struct{}),
	}
}

// Start launches the worker.
func (q *VoteQueue) Start() {
	q.processingWg.Add(1)
	go q.voteWorker()
}

// Stop stops accepting votes and waits for the worker to exit. Requests still
// buffered are answered with ErrQueueStopped.
func (q *VoteQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()

		close(q.shutdownCh)
		q.processingWg.Wait()

		for {
			select {
			case req := <-q.voteCh:
				req.ResultCh <- &ProcessingResult{RequestID: req.ID, Err: ErrQueueStopped}
			default:
				return
			}
		}
	})
}

// Submit queues a vote and waits for its result. Cancelling ctx stops the wait,
// not the vote: a request the worker already took will still be recorded.
func (q *VoteQueue) Submit(ctx context.Context, voterID string, candidateID int) (*models.Receipt, error) {
	req := &VoteRequest{
		ID:          uuid.New().String(),
		VoterID:     voterID,
		CandidateID: candidateID,
		QueuedAt:    time.Now(),
		ResultCh:    make(chan *ProcessingResult, 1),
	}

	q.mu.RLock()
	if q.stopped {
		q.mu.RUnlock()
		return nil, ErrQueueStopped
	}
	select {
	case q.voteCh <- req:
		q.mu.RUnlock()
	default:
		q.mu.RUnlock()
		log.Printf("Warning: vote queue is full, request %s for voter %s dropped", req.ID, voterID)
		return nil, ErrQueueFull
	}

	select {
	case res := <-req.ResultCh:
		return res.Receipt, res.Err
	case <-ctx.Done():
		log.Printf("Request %s for voter %s abandoned while queued: %v", req.ID, voterID, ctx.Err())
		return nil, ctx.Err()
	}
}

func (q *VoteQueue) Pending() int {
	return len(q.voteCh)
}

// voteWorker processes queued votes
func (q *VoteQueue) voteWorker() {
	defer q.processingWg.Done()

	for {
		select {
		case <-q.shutdownCh:
			return
		case req := <-q.voteCh:
			receipt, err := q.votingService.CastVote(req.VoterID, req.CandidateID)
			if err == nil {
				log.Printf("Request %s processed in %v", req.ID, time.Since(req.QueuedAt))
			}
			req.ResultCh <- &ProcessingResult{RequestID: req.ID, Receipt: receipt, Err: err}
		}
	}
}

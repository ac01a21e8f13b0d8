package service

import (
	"sync"
	"time"
)

// VotingSession is the window during which votes are accepted.
type VotingSession struct {
	startTime time.Time
	endTime   time.Time
	isActive  bool
	now       func() time.Time
	mu        sync.RWMutex
}

func NewVotingSession(duration time.Duration) *VotingSession {
	return newVotingSessionAt(time.Now, duration)
}

func newVotingSessionAt(now func() time.Time, duration time.Duration) *VotingSession {
	start := now()
	return &VotingSession{
		startTime: start,
		endTime:   start.Add(duration),
		isActive:  true,
		now:       now,
	}
}

func (vs *VotingSession) IsActive() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.isActive && vs.now().Before(vs.endTime)
}

func (vs *VotingSession) End() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.isActive = false
}

func (vs *VotingSession) EndsAt() time.Time {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.endTime
}

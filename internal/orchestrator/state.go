package orchestrator

import (
	"sync"
	"time"

	"cfgvault/internal/model"
)

type jobState struct {
	mu         sync.RWMutex
	deviceID   uint
	deviceName string
	state      model.JobState
	attempt    int
	startedAt  time.Time
	updatedAt  time.Time
}

func newJobState(deviceID uint) *jobState {
	now := time.Now()
	return &jobState{
		deviceID:  deviceID,
		state:     model.JobPending,
		startedAt: now,
		updatedAt: now,
	}
}

func (s *jobState) set(state model.JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.updatedAt = time.Now()
}

func (s *jobState) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceName = name
}

func (s *jobState) setAttempt(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = n
}

func (s *jobState) Snapshot() model.JobSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.JobSnapshot{
		DeviceID:   s.deviceID,
		DeviceName: s.deviceName,
		State:      s.state,
		Attempt:    s.attempt,
		StartedAt:  s.startedAt,
		UpdatedAt:  s.updatedAt,
	}
}

package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EngineState is what the single worker is doing right now
type EngineState int

const (
	// EngineStateIdle means no job is being driven
	EngineStateIdle EngineState = iota
	// EngineStateExtracting means the extraction tool is running
	EngineStateExtracting
	// EngineStateCracking means a dictionary attempt is running
	EngineStateCracking
	// EngineStateFinishing means the job outcome is being written
	EngineStateFinishing
)

func (s EngineState) String() string {
	switch s {
	case EngineStateIdle:
		return "idle"
	case EngineStateExtracting:
		return "extracting"
	case EngineStateCracking:
		return "cracking"
	case EngineStateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// StateManager tracks the engine state and the job it belongs to
type StateManager struct {
	mu             sync.RWMutex
	currentState   EngineState
	currentJobID   uuid.UUID
	currentPID     int
	stateChangedAt time.Time
}

// NewStateManager creates a state manager in the idle state
func NewStateManager() *StateManager {
	return &StateManager{
		currentState:   EngineStateIdle,
		stateChangedAt: time.Now(),
	}
}

// TransitionTo atomically changes the engine state
func (m *StateManager) TransitionTo(newState EngineState, jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentState = newState
	m.currentJobID = jobID
	m.currentPID = 0
	m.stateChangedAt = time.Now()
}

// SetPID records the pid of the running tool
func (m *StateManager) SetPID(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentPID = pid
}

// GetState returns the current state and job ID atomically
func (m *StateManager) GetState() (EngineState, uuid.UUID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState, m.currentJobID
}

// GetStateInfo returns full state information including timing
func (m *StateManager) GetStateInfo() (EngineState, uuid.UUID, int, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState, m.currentJobID, m.currentPID, m.stateChangedAt
}

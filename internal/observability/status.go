package observability

import (
	"sync"
	"time"
)

// Stage is the coarse activity shown on the dashboard. The orchestrator
// reports its phase name here.
type Stage string

const StageIdle Stage = "IDLE"

type SystemStatus struct {
	mu             sync.RWMutex
	CurrentStage   Stage
	ActiveTask     string
	CompletedSteps int
	TotalSteps     int
	LastHeartbeat  time.Time
}

var globalStatus = &SystemStatus{
	CurrentStage:  StageIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(stage Stage, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentStage = stage
	globalStatus.ActiveTask = task
	if stage == StageIdle {
		globalStatus.CompletedSteps = 0
		globalStatus.TotalSteps = 0
	}
}

// SetProgress records step progress for the active run.
func SetProgress(completed, total int) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CompletedSteps = completed
	globalStatus.TotalSteps = total
}

// Snapshot is a copy of the global status.
type Snapshot struct {
	Stage          Stage
	Task           string
	CompletedSteps int
	TotalSteps     int
	LastHeartbeat  time.Time
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() Snapshot {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return Snapshot{
		Stage:          globalStatus.CurrentStage,
		Task:           globalStatus.ActiveTask,
		CompletedSteps: globalStatus.CompletedSteps,
		TotalSteps:     globalStatus.TotalSteps,
		LastHeartbeat:  globalStatus.LastHeartbeat,
	}
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}

package model

import "time"

// RunTrigger identifies what started a run.
type RunTrigger string

const (
	RunTriggerScheduled RunTrigger = "scheduled"
	RunTriggerManual    RunTrigger = "manual"
)

// RunStatus is the terminal outcome of a run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one generate/publish execution for a user, scheduled or
// interactive. CycleID groups the runs of one scheduler cycle and is empty
// for interactive runs.
type Run struct {
	ID           int64
	CycleID      string
	UserID       string
	Trigger      RunTrigger
	TokenCount   int
	ArtifactPath string
	RemotePath   string
	Status       RunStatus
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}

package model

import "fmt"

type JobStatus string

const (
	StatusDraft     JobStatus = "draft"
	StatusScripting JobStatus = "scripting"
	StatusVoicing   JobStatus = "voicing"
	StatusImaging   JobStatus = "imaging"
	StatusRendering JobStatus = "rendering"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

var stageOrder = map[JobStatus]int{
	StatusDraft:     0,
	StatusScripting: 1,
	StatusVoicing:   2,
	StatusImaging:   3,
	StatusRendering: 4,
}

func (s JobStatus) Valid() bool {
	_, ok := stageOrder[s]
	return ok || s.Terminal()
}

func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Idle reports whether no pipeline run is active for a job in this status.
func (s JobStatus) Idle() bool {
	return s == StatusDraft || s.Terminal()
}

// CanTransition reports whether a job may move from one status to another.
// Stages only move forward, failed is reachable from any non-terminal status,
// completed only from rendering, and terminal statuses are final.
func CanTransition(from, to JobStatus) bool {
	if from.Terminal() || !from.Valid() || !to.Valid() {
		return false
	}
	switch to {
	case StatusFailed:
		return true
	case StatusCompleted:
		return from == StatusRendering
	}
	return stageOrder[to] > stageOrder[from]
}

type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

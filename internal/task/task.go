// Package task runs background continuations of a job, either in process or
// through a Redis-backed asynq queue.
package task

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	TypeRunPipeline   = "job:run"
	TypeRender        = "job:render"
	TypeAwaitProvider = "job:await_provider"
)

type Payload struct {
	JobID string `json:"job_id"`
}

// Handler processes one task for a job. A returned error asks the backend to
// retry where it supports retries.
type Handler func(ctx context.Context, jobID string) error

type Dispatcher interface {
	Dispatch(ctx context.Context, taskType, jobID string) error
}

// Registrar accepts handlers for task types.
type Registrar interface {
	Handle(taskType string, h Handler)
}

func encode(jobID string) ([]byte, error) {
	data, err := json.Marshal(Payload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

func decode(data []byte) (string, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if p.JobID == "" {
		return "", fmt.Errorf("payload has no job_id")
	}
	return p.JobID, nil
}

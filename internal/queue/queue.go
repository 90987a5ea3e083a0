// Package queue hands analysis jobs from the request path to background
// workers. Production uses asynq on Redis; Memory backs tests and inline mode.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// TaskAnalyze is enqueued once per successful intake.
	TaskAnalyze = "item:analyze"
	// TaskSweepOrphans is registered with the scheduler to report items that
	// never left the submitted state.
	TaskSweepOrphans = "items:sweep-orphans"
)

var (
	// ErrQueueFull is returned by Memory when its buffer has no room.
	ErrQueueFull = errors.New("queue full")
	// ErrClosed is returned when enqueueing after Close.
	ErrClosed = errors.New("queue closed")
)

// Job carries only the item id. Workers re-read everything else at dequeue
// time so they always act on current metadata.
type Job struct {
	ItemID string `json:"item_id"`
}

// Handler processes one job. Returning, with or without an error, acknowledges
// the job.
type Handler func(ctx context.Context, job Job) error

// Producer publishes jobs.
type Producer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Consumer delivers jobs to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// EncodeJob serializes a job into a task payload.
func EncodeJob(job Job) ([]byte, error) {
	if job.ItemID == "" {
		return nil, errors.New("job has no item id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

// DecodeJob parses a task payload produced by EncodeJob.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("decode payload: %w", err)
	}
	if job.ItemID == "" {
		return Job{}, errors.New("decode payload: missing item_id")
	}
	return job, nil
}

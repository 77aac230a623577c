package worker

import (
	"context"
	"time"

	"s3syncdash/internal/model"
)

// Task represents one file to upload within a session
type Task struct {
	Index     int
	SessionID int64
	Key       string
	File      model.FileSpec
}

// AttemptFunc performs a single authorization + transfer attempt for a task
type AttemptFunc func(ctx context.Context, task Task) error

// Result is the resolved outcome of a task
type Result struct {
	Task     Task
	Err      error
	Attempts int
	Duration time.Duration
}

// Strategy schedules task attempts. Run returns one Result per task, in task order,
// and only after every task has resolved. done is called as each task resolves and
// may be called concurrently.
type Strategy interface {
	Run(ctx context.Context, tasks []Task, attempt AttemptFunc, done func(Result)) []Result
}

// Config contains worker configuration
type Config struct {
	Workers        int
	Retries        int
	RetryBackoffMs int
}

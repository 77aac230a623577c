package worker

import (
	"context"
	"time"
)

// Sequential runs one attempt per task, one task at a time, in input order
type Sequential struct{}

// Run implements Strategy
func (Sequential) Run(ctx context.Context, tasks []Task, attempt AttemptFunc, done func(Result)) []Result {
	results := make([]Result, len(tasks))
	for i, task := range tasks {
		start := time.Now()
		err := attempt(ctx, task)
		results[i] = Result{Task: task, Err: err, Attempts: 1, Duration: time.Since(start)}
		if done != nil {
			done(results[i])
		}
	}
	return results
}

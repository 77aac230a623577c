package worker

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pool runs tasks on a bounded number of workers and retries retriable failures
// with exponential backoff
type Pool struct {
	config    Config
	retriable func(error) bool
	logger    *zap.Logger
}

// NewPool creates a new worker pool. retriable classifies errors worth another attempt.
func NewPool(config Config, retriable func(error) bool, logger *zap.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryBackoffMs <= 0 {
		config.RetryBackoffMs = 500
	}
	if retriable == nil {
		retriable = func(error) bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{config: config, retriable: retriable, logger: logger}
}

// Run implements Strategy
func (p *Pool) Run(ctx context.Context, tasks []Task, attempt AttemptFunc, done func(Result)) []Result {
	results := make([]Result, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.config.Workers)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = p.process(ctx, task, attempt)
			if done != nil {
				done(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Pool) process(ctx context.Context, task Task, attempt AttemptFunc) Result {
	start := time.Now()
	attempts := 0

	op := func() error {
		attempts++
		err := attempt(ctx, task)
		if err == nil {
			return nil
		}
		if !p.retriable(err) {
			return backoff.Permanent(err)
		}
		p.logger.Debug("Retriable attempt failure",
			zap.String("key", task.Key),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(p.newBackoff(), uint64(p.config.Retries)),
		ctx,
	))

	return Result{Task: task, Err: err, Attempts: attempts, Duration: time.Since(start)}
}

func (p *Pool) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(p.config.RetryBackoffMs) * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return b
}

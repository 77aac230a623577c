// Package observer polls a session until it reaches a terminal status.
package observer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"s3syncdash/internal/api"
	"s3syncdash/internal/model"
)

// DefaultInterval is the polling cadence used when none is configured
const DefaultInterval = 2 * time.Second

// Fetcher reads the current state of a session
type Fetcher interface {
	GetSession(ctx context.Context, cred api.Credential, id int64) (*model.Session, error)
}

// PollRecorder receives the result of every fetch
type PollRecorder interface {
	RecordPoll(err error)
}

// Observer polls one session on a fixed interval while it is non-terminal
type Observer struct {
	fetcher   Fetcher
	cred      api.Credential
	sessionID int64
	interval  time.Duration
	recorder  PollRecorder
	logger    *zap.Logger

	mu       sync.RWMutex
	snapshot *model.Session
	updates  chan *model.Session

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an observer. A non-positive interval uses DefaultInterval.
func New(fetcher Fetcher, cred api.Credential, sessionID int64, interval time.Duration, logger *zap.Logger) *Observer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{
		fetcher:   fetcher,
		cred:      cred,
		sessionID: sessionID,
		interval:  interval,
		logger:    logger.With(zap.Int64("session_id", sessionID)),
		updates:   make(chan *model.Session, 1),
		done:      make(chan struct{}),
	}
}

// WithRecorder reports every poll
func (o *Observer) WithRecorder(r PollRecorder) *Observer {
	o.recorder = r
	return o
}

// Start launches the polling goroutine. The first fetch happens immediately.
// Calling Start more than once has no effect.
func (o *Observer) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		ctx, o.cancel = context.WithCancel(ctx)
		go o.loop(ctx)
	})
}

// Stop cancels polling and waits for the goroutine to exit. No fetch is
// issued after Stop returns.
func (o *Observer) Stop() {
	o.stopOnce.Do(func() {
		// a never-started observer is marked done
		o.startOnce.Do(func() { close(o.done) })
		if o.cancel != nil {
			o.cancel()
			<-o.done
		}
	})
}

// Done is closed once polling has ended, either on a terminal status or Stop
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

// Updates delivers the latest snapshot after each successful fetch. Stale
// snapshots are dropped when the reader falls behind.
func (o *Observer) Updates() <-chan *model.Session {
	return o.updates
}

// Snapshot returns the last fetched session, or nil before the first success
func (o *Observer) Snapshot() *model.Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot
}

// Percent returns the progress percentage of the last snapshot
func (o *Observer) Percent() int {
	s := o.Snapshot()
	if s == nil {
		return 0
	}
	return s.ProgressPercent()
}

func (o *Observer) loop(ctx context.Context) {
	defer close(o.done)

	if o.poll(ctx) {
		return
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches once and reports whether the session is terminal
func (o *Observer) poll(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	session, err := o.fetcher.GetSession(ctx, o.cred, o.sessionID)
	if o.recorder != nil {
		o.recorder.RecordPoll(err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		o.logger.Warn("Failed to fetch session", zap.Error(err))
		return false
	}

	o.mu.Lock()
	o.snapshot = session
	o.mu.Unlock()

	o.publish(session)

	o.logger.Debug("Session polled",
		zap.String("status", string(session.Status)),
		zap.Int("percent", session.ProgressPercent()),
	)

	return session.Status.IsTerminal()
}

func (o *Observer) publish(session *model.Session) {
	select {
	case o.updates <- session:
		return
	default:
	}
	// replace the unread snapshot with the newer one
	select {
	case <-o.updates:
	default:
	}
	select {
	case o.updates <- session:
	default:
	}
}

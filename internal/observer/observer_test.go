package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"s3syncdash/internal/api"
	"s3syncdash/internal/model"
)

// scriptedFetcher returns responses in order and repeats the last one
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     int
	token     string
}

type response struct {
	session *model.Session
	err     error
}

func (f *scriptedFetcher) GetSession(_ context.Context, cred api.Credential, id int64) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = cred.Token
	r := f.responses[min(f.calls, len(f.responses)-1)]
	f.calls++
	return r.session, r.err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type pollCounter struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (p *pollCounter) RecordPoll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
		return
	}
	p.ok++
}

func session(status model.SessionStatus, uploaded, total int64) *model.Session {
	return &model.Session{ID: 1, Status: status, FilesUploaded: uploaded, TotalFiles: total}
}

func waitDone(t *testing.T, o *Observer) {
	t.Helper()
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("observer did not finish")
	}
}

func TestStopsAfterTerminalStatus(t *testing.T) {
	f := &scriptedFetcher{responses: []response{
		{session: session(model.SessionPending, 0, 4)},
		{session: session(model.SessionInProgress, 1, 4)},
		{session: session(model.SessionCompleted, 4, 4)},
	}}
	rec := &pollCounter{}

	o := New(f, api.Credential{Token: "tok"}, 1, 5*time.Millisecond, zaptest.NewLogger(t)).WithRecorder(rec)
	o.Start(context.Background())
	waitDone(t, o)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, f.count(), "no fetch after terminal status")
	assert.Equal(t, "tok", f.token)
	assert.Equal(t, model.SessionCompleted, o.Snapshot().Status)
	assert.Equal(t, 100, o.Percent())
	assert.Equal(t, 3, rec.ok)

	o.Stop()
}

func TestFetchFailuresAreRetriedOnNextTick(t *testing.T) {
	f := &scriptedFetcher{responses: []response{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{session: session(model.SessionFailed, 0, 2)},
	}}
	rec := &pollCounter{}

	o := New(f, api.Credential{}, 1, 5*time.Millisecond, zaptest.NewLogger(t)).WithRecorder(rec)
	assert.Nil(t, o.Snapshot())
	assert.Equal(t, 0, o.Percent())

	o.Start(context.Background())
	waitDone(t, o)

	assert.Equal(t, 3, f.count())
	assert.Equal(t, 2, rec.failed)
	assert.Equal(t, model.SessionFailed, o.Snapshot().Status)
}

func TestStopHaltsPolling(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{session: session(model.SessionInProgress, 1, 3)}}}

	o := New(f, api.Credential{}, 1, 5*time.Millisecond, nil)
	o.Start(context.Background())

	require.Eventually(t, func() bool { return f.count() >= 2 }, time.Second, time.Millisecond)
	o.Stop()
	after := f.count()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, f.count(), "no ticks after Stop")
	assert.Equal(t, 33, o.Percent())

	o.Stop()
}

func TestFirstFetchIsImmediate(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{session: session(model.SessionPending, 0, 0)}}}

	o := New(f, api.Credential{}, 1, time.Hour, nil)
	o.Start(context.Background())
	defer o.Stop()

	select {
	case s := <-o.Updates():
		assert.Equal(t, model.SessionPending, s.Status)
	case <-time.After(time.Second):
		t.Fatal("no immediate fetch")
	}
	assert.Equal(t, 0, o.Percent())
}

func TestStopWithoutStart(t *testing.T) {
	o := New(&scriptedFetcher{}, api.Credential{}, 1, 0, nil)
	o.Stop()
	waitDone(t, o)

	o.Start(context.Background())
}

func TestParentContextCancellation(t *testing.T) {
	f := &scriptedFetcher{responses: []response{{session: session(model.SessionInProgress, 0, 1)}}}
	ctx, cancel := context.WithCancel(context.Background())

	o := New(f, api.Credential{}, 1, 5*time.Millisecond, nil)
	o.Start(ctx)
	cancel()
	waitDone(t, o)
}

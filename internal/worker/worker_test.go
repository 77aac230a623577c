package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"s3syncdash/internal/api"
	"s3syncdash/internal/broker"
	"s3syncdash/internal/model"
	"s3syncdash/internal/transfer"
)

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		key := string(rune('a'+i)) + ".wav"
		tasks[i] = Task{Index: i, SessionID: 1, Key: key, File: model.FileSpec{RelativePath: "C1/" + key, LocalPath: "/tmp/" + key, Size: 1}}
	}
	return tasks
}

func TestSequentialRunsInOrderOnce(t *testing.T) {
	var order []string
	attempt := func(_ context.Context, task Task) error {
		order = append(order, task.Key)
		if task.Key == "b.wav" {
			return errors.New("boom")
		}
		return nil
	}

	var resolved int
	results := Sequential{}.Run(context.Background(), makeTasks(3), attempt, func(Result) { resolved++ })

	assert.Equal(t, []string{"a.wav", "b.wav", "c.wav"}, order)
	assert.Equal(t, 3, resolved)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	for _, r := range results {
		assert.Equal(t, 1, r.Attempts)
	}
}

func TestPoolBoundsConcurrencyAndKeepsOrder(t *testing.T) {
	var current, peak int32
	attempt := func(_ context.Context, task Task) error {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil
	}

	pool := NewPool(Config{Workers: 2}, nil, zaptest.NewLogger(t))
	tasks := makeTasks(8)

	var mu sync.Mutex
	var resolved int
	results := pool.Run(context.Background(), tasks, attempt, func(Result) {
		mu.Lock()
		resolved++
		mu.Unlock()
	})

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 8, resolved)
	for i, r := range results {
		assert.Equal(t, tasks[i].Key, r.Task.Key)
		assert.NoError(t, r.Err)
	}
}

func TestPoolRetriesRetriableErrors(t *testing.T) {
	var calls int32
	attempt := func(_ context.Context, _ Task) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &transfer.TransferError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("busy")}
		}
		return nil
	}

	pool := NewPool(Config{Workers: 1, Retries: 3, RetryBackoffMs: 1}, transfer.IsRetriable, nil)
	results := pool.Run(context.Background(), makeTasks(1), attempt, nil)

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
}

func TestPoolStopsOnPermanentError(t *testing.T) {
	attempt := func(_ context.Context, _ Task) error {
		return &transfer.TransferError{StatusCode: http.StatusForbidden, Err: errors.New("denied")}
	}

	pool := NewPool(Config{Workers: 1, Retries: 5, RetryBackoffMs: 1}, transfer.IsRetriable, nil)
	results := pool.Run(context.Background(), makeTasks(1), attempt, nil)

	var te *transfer.TransferError
	require.True(t, errors.As(results[0].Err, &te))
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.Equal(t, 1, results[0].Attempts)
}

func TestPoolExhaustsRetryBudget(t *testing.T) {
	attempt := func(_ context.Context, _ Task) error {
		return &transfer.TransferError{StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
	}

	pool := NewPool(Config{Workers: 1, Retries: 2, RetryBackoffMs: 1}, transfer.IsRetriable, nil)
	results := pool.Run(context.Background(), makeTasks(1), attempt, nil)

	assert.Error(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
}

type fakeBroker struct {
	err  error
	cred api.Credential
}

func (f *fakeBroker) RequestAuthorization(_ context.Context, cred api.Credential, sessionID int64, key string) (*model.Authorization, error) {
	f.cred = cred
	if f.err != nil {
		return nil, f.err
	}
	return &model.Authorization{URL: "https://s3/" + key, FileKey: key, FullKey: "C1/" + key}, nil
}

type fakeTransferer struct {
	url  string
	body string
	err  error
}

func (f *fakeTransferer) Transfer(_ context.Context, url string, body io.Reader, _ int64) error {
	f.url = url
	b, _ := io.ReadAll(body)
	f.body = string(b)
	return f.err
}

func stringOpener(content string) OpenFunc {
	return func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

func TestProcessorAttempt(t *testing.T) {
	b := &fakeBroker{}
	tr := &fakeTransferer{}
	p := NewProcessor(b, tr, api.Credential{Token: "tok"}, zaptest.NewLogger(t)).WithOpener(stringOpener("hello"))

	err := p.Attempt(context.Background(), makeTasks(1)[0])
	require.NoError(t, err)
	assert.Equal(t, "tok", b.cred.Token)
	assert.Equal(t, "https://s3/a.wav", tr.url)
	assert.Equal(t, "hello", tr.body)
}

func TestProcessorAuthorizationFailure(t *testing.T) {
	tr := &fakeTransferer{}
	p := NewProcessor(&fakeBroker{err: errors.New("no grant")}, tr, api.Credential{}, nil).WithOpener(stringOpener(""))

	err := p.Attempt(context.Background(), makeTasks(1)[0])
	var authErr *broker.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "a.wav", authErr.Key)
	assert.Empty(t, tr.url, "no transfer without authorization")
}

func TestProcessorTransferFailureCarriesKey(t *testing.T) {
	tr := &fakeTransferer{err: &transfer.TransferError{StatusCode: http.StatusForbidden, Err: errors.New("expired")}}
	p := NewProcessor(&fakeBroker{}, tr, api.Credential{}, nil).WithOpener(stringOpener("x"))

	err := p.Attempt(context.Background(), makeTasks(1)[0])
	var te *transfer.TransferError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "a.wav", te.Key)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
}

func TestProcessorOpenFailure(t *testing.T) {
	p := NewProcessor(&fakeBroker{}, &fakeTransferer{}, api.Credential{}, nil)

	err := p.Attempt(context.Background(), Task{Key: "gone.wav", File: model.FileSpec{LocalPath: "/does/not/exist"}})
	var te *transfer.TransferError
	require.True(t, errors.As(err, &te))
	assert.False(t, transfer.IsRetriable(err))
}

func TestPoolDoesNotRetryUnreadableLocalFile(t *testing.T) {
	opens := 0
	p := NewProcessor(&fakeBroker{}, &fakeTransferer{}, api.Credential{}, nil).
		WithOpener(func(path string) (io.ReadCloser, error) {
			opens++
			return nil, errors.New("connection to /data/connections volume lost")
		})

	tasks := []Task{{SessionID: 1, Key: "x.wav", File: model.FileSpec{LocalPath: "/data/connections/x.wav"}}}
	pool := NewPool(Config{Workers: 1, Retries: 4, RetryBackoffMs: 1}, transfer.IsRetriable, nil)
	results := pool.Run(context.Background(), tasks, p.Attempt, nil)

	assert.ErrorIs(t, results[0].Err, transfer.ErrLocalFile)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Equal(t, 1, opens)
}

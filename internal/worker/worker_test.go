package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/store"
)

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []*store.QueuedExecution
	finished map[int64]*string
	stale    string
	requeued bool
	claimErr error
}

func newFakeQueue(entryIDs ...string) *fakeQueue {
	q := &fakeQueue{finished: map[int64]*string{}}
	for i, id := range entryIDs {
		q.jobs = append(q.jobs, &store.QueuedExecution{ID: int64(i + 1), EntryID: id, State: store.QueueQueued})
	}
	return q
}

func (q *fakeQueue) ClaimNextExecution(context.Context) (*store.QueuedExecution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	for _, j := range q.jobs {
		if j.State == store.QueueQueued {
			j.State = store.QueueClaimed
			return j, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) FinishExecution(_ context.Context, id int64, errText *string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.finished[id] = errText
	return nil
}

func (q *fakeQueue) RequeueClaimed(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeued = true
	return 0, nil
}

func (q *fakeQueue) FailStaleRunning(_ context.Context, reason string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stale = reason
	return 0, nil
}

func (q *fakeQueue) finishedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.finished)
}

type fakeExecutor struct {
	mu   sync.Mutex
	ran  []string
	fail map[string]bool
}

func (e *fakeExecutor) Execute(_ context.Context, id string) (*model.Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ran = append(e.ran, id)
	if e.fail[id] {
		return nil, errors.New("integration exploded")
	}
	return &model.Entry{ID: id, Status: model.StatusCompleted}, nil
}

func TestRunOnce(t *testing.T) {
	q := newFakeQueue("entry-a", "entry-b")
	ex := &fakeExecutor{fail: map[string]bool{"entry-b": true}}
	w := New(q, ex, time.Millisecond, 1, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := w.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, ok, "RunOnce #%d", i)
	}
	ok, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue")

	assert.Nil(t, q.finished[1])
	require.NotNil(t, q.finished[2])
	assert.Equal(t, "integration exploded", *q.finished[2])
}

func TestRunOnce_ClaimError(t *testing.T) {
	q := newFakeQueue()
	q.claimErr = errors.New("database is locked")
	w := New(q, &fakeExecutor{}, time.Millisecond, 1, nil)

	ok, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStart_RecoversAndDrainsQueue(t *testing.T) {
	q := newFakeQueue("entry-1", "entry-2", "entry-3", "entry-4")
	ex := &fakeExecutor{}
	w := New(q, ex, time.Millisecond, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return q.finishedCount() == 4 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, InterruptedReason, q.stale)
	assert.True(t, q.requeued, "claimed rows requeued")
	assert.Len(t, ex.ran, 4)
}

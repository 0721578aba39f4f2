package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionQueue_FIFO(t *testing.T) {
	q := newSubmissionQueue()
	for _, s := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(Submission{Type: SubmitCreate, Session: s}))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.Session)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestSubmissionQueue_WaitSignals(t *testing.T) {
	q := newSubmissionQueue()
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(Submission{Type: SubmitIngest})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal after enqueue")
	}
	assert.Equal(t, 1, q.Len())
}

func TestSubmissionQueue_Close(t *testing.T) {
	q := newSubmissionQueue()
	q.Enqueue(Submission{Session: "pending"})
	q.Close()
	q.Close()

	assert.True(t, q.IsClosed())
	assert.False(t, q.Enqueue(Submission{Session: "late"}))

	select {
	case <-q.Wait():
	default:
		t.Fatal("closed queue must wake waiters")
	}

	got, ok := q.TryDequeue()
	require.True(t, ok, "queued work survives Close")
	assert.Equal(t, "pending", got.Session)
}

func TestSubmissionQueue_ConcurrentProducers(t *testing.T) {
	q := newSubmissionQueue()
	const producers, each = 8, 50

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				q.Enqueue(Submission{Type: SubmitCreate})
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*each, n)
}

func TestSubmissionType_String(t *testing.T) {
	assert.Equal(t, "create", SubmitCreate.String())
	assert.Equal(t, "ingest", SubmitIngest.String())
	assert.Equal(t, "unknown", SubmissionType(0).String())
}

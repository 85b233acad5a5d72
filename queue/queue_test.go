package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-qbmidi/link"
	"github.com/moffa90/go-qbmidi/transport"
)

func newLink(n string) *link.Link {
	return link.New(
		transport.Port{ID: "in-" + n, State: transport.PortConnected},
		transport.Port{ID: "out-" + n, State: transport.PortConnected},
		link.MethodEcho,
	)
}

func TestSingleFlight(t *testing.T) {
	q := New(KindUpload)
	a := newLink("a")

	first, err := q.Enqueue(a, "hex")
	require.NoError(t, err)

	_, err = q.Enqueue(a, "hex")
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	// Started requests still block the link.
	got, ok := q.Next()
	require.True(t, ok)
	require.Same(t, first, got)
	_, err = q.Enqueue(a, "hex")
	require.ErrorIs(t, err, ErrAlreadyInProgress)

	// Another link is independent.
	_, err = q.Enqueue(newLink("b"), "")
	require.NoError(t, err)

	require.True(t, q.Complete(first, nil))
	_, err = q.Enqueue(a, "hex")
	require.NoError(t, err)
}

func TestNextTakesOneAtATime(t *testing.T) {
	q := New(KindEnterBootloader)
	a, b := newLink("a"), newLink("b")
	ra, _ := q.Enqueue(a, "")
	rb, _ := q.Enqueue(b, "")

	peek, ok := q.Peek()
	require.True(t, ok)
	assert.Same(t, ra, peek)

	next, ok := q.Next()
	require.True(t, ok)
	assert.Same(t, ra, next)

	next, ok = q.Next()
	require.True(t, ok)
	assert.Same(t, rb, next)

	_, ok = q.Next()
	assert.False(t, ok)
	assert.Equal(t, 2, q.Len())
}

func TestCompleteWakesWaiter(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "success"},
		{name: "failure", err: errors.New("confirmation failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(KindExitBootloader)
			r, err := q.Enqueue(newLink("a"), "")
			require.NoError(t, err)

			go func() {
				time.Sleep(5 * time.Millisecond)
				next, _ := q.Next()
				q.Complete(next, tt.err)
			}()

			err = r.Wait(context.Background(), time.Second)
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.err, r.Err())
			assert.Equal(t, 0, q.Len())
			assert.Equal(t, KindExitBootloader, r.Kind())
		})
	}
}

func TestWaitTimeoutWithdraws(t *testing.T) {
	q := New(KindUpload)
	a := newLink("a")
	r, _ := q.Enqueue(a, "")

	err := r.Wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.False(t, q.Contains(a))
	assert.False(t, q.Complete(r, nil))
}

func TestWaitTimeoutKeepsStarted(t *testing.T) {
	q := New(KindUpload)
	a := newLink("a")
	r, _ := q.Enqueue(a, "")
	q.Next()

	err := r.Wait(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, ErrRequestTimeout)
	assert.True(t, q.Contains(a))
	assert.True(t, q.Complete(r, nil))
}

func TestWaitCancelled(t *testing.T) {
	q := New(KindUpload)
	r, _ := q.Enqueue(newLink("a"), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Wait(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.Len())
}

func TestClose(t *testing.T) {
	q := New(KindUpload)
	r1, _ := q.Enqueue(newLink("a"), "")
	r2, _ := q.Enqueue(newLink("b"), "")
	q.Next()

	q.Close()

	for _, r := range []*Request{r1, r2} {
		assert.ErrorIs(t, r.Wait(context.Background(), time.Second), ErrClosed)
	}
	assert.Equal(t, 0, q.Len())

	_, err := q.Enqueue(newLink("c"), "")
	assert.ErrorIs(t, err, ErrClosed)
}

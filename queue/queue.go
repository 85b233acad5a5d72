// Package queue holds the single-flight request queues the monitor drains.
//
// A caller enqueues a request for a link and waits on it. The monitor
// takes at most one request per queue per cycle with Next, does the work
// and calls Complete, which removes the request and wakes the caller with
// the result. A link can have only one request in a queue at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/moffa90/go-qbmidi/link"
)

var (
	// ErrAlreadyInProgress is returned by Enqueue when the link already has
	// a request in the queue.
	ErrAlreadyInProgress = errors.New("already in progress")

	// ErrRequestTimeout is returned by Wait when the request did not leave
	// the queue in time.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrClosed completes requests still queued when the queue is closed.
	ErrClosed = errors.New("queue closed")
)

// DefaultTimeout is the usual ceiling for Wait.
const DefaultTimeout = 60 * time.Second

// Kind names the operation a queue carries.
type Kind string

const (
	KindUpload          Kind = "upload"
	KindEnterBootloader Kind = "enter-bootloader"
	KindExitBootloader  Kind = "exit-bootloader"
)

// Request is a pending operation on a link.
type Request struct {
	Link    *link.Link
	Payload string

	queue   *Queue
	done    chan struct{}
	err     error
	started bool
}

// Kind returns the kind of the queue the request belongs to.
func (r *Request) Kind() Kind {
	return r.queue.kind
}

// Done is closed when the request leaves its queue.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Err returns the result once Done is closed.
func (r *Request) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the request leaves its queue and returns its error.
// When timeout elapses or ctx is done first, a request that has not been
// started is withdrawn from the queue. A started request keeps running.
func (r *Request) Wait(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-r.done:
		return r.err
	case <-expired:
		r.queue.Withdraw(r)
		return fmt.Errorf("%s %s: %w", r.queue.kind, r.Link, ErrRequestTimeout)
	case <-ctx.Done():
		r.queue.Withdraw(r)
		return ctx.Err()
	}
}

// Queue is an ordered list of requests, at most one per link.
type Queue struct {
	kind Kind

	mu     sync.Mutex
	items  []*Request
	closed bool
}

// New creates an empty queue.
func New(kind Kind) *Queue {
	return &Queue{kind: kind}
}

// Kind returns the operation this queue carries.
func (q *Queue) Kind() Kind {
	return q.kind
}

// Enqueue appends a request for l.
func (q *Queue) Enqueue(l *link.Link, payload string) (*Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	for _, r := range q.items {
		if r.Link == l {
			return nil, fmt.Errorf("%s %s: %w", q.kind, l, ErrAlreadyInProgress)
		}
	}

	r := &Request{
		Link:    l,
		Payload: payload,
		queue:   q,
		done:    make(chan struct{}),
	}
	q.items = append(q.items, r)
	return r, nil
}

// Peek returns the first request without taking it.
func (q *Queue) Peek() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Next marks the first request started and returns it. The request stays
// queued until Complete.
func (q *Queue) Next() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.items {
		if !r.started {
			r.started = true
			return r, true
		}
	}
	return nil, false
}

// Complete removes r from the queue and wakes its waiter with err.
// It reports false if r was no longer queued.
func (q *Queue) Complete(r *Request, err error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.remove(r) {
		return false
	}
	r.err = err
	close(r.done)
	return true
}

// Withdraw removes r if it has not been started.
func (q *Queue) Withdraw(r *Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if r.started {
		return false
	}
	return q.remove(r)
}

// Contains reports whether l has a queued request.
func (q *Queue) Contains(l *link.Link) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.items {
		if r.Link == l {
			return true
		}
	}
	return false
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close completes every queued request with ErrClosed. Later Enqueue
// calls fail with ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.closed = true
	q.mu.Unlock()

	for _, r := range items {
		r.err = ErrClosed
		close(r.done)
	}
}

func (q *Queue) remove(r *Request) bool {
	for i, item := range q.items {
		if item == r {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

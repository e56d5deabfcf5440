package mqpub

import (
	"context"
	"sync"
)

// PublishResult is the completion handle for one published message.
//
// It is resolved exactly once, either with the broker assigned message ID or
// with a terminal error. Callers may block on Get, select on Ready, or attach
// callbacks with OnDone.
type PublishResult struct {
	seq   uint64
	ready chan struct{}

	mu        sync.Mutex
	id        string
	err       error
	done      bool
	callbacks []func(id string, err error)
}

func newPublishResult(seq uint64) *PublishResult {
	return &PublishResult{
		seq:   seq,
		ready: make(chan struct{}),
	}
}

// Sequence returns the local correlation token assigned when the message was published.
func (r *PublishResult) Sequence() uint64 {
	return r.seq
}

// Ready returns a channel that is closed once the result is resolved.
func (r *PublishResult) Ready() <-chan struct{} {
	return r.ready
}

// Get blocks until the result is resolved or ctx is done.
// A ctx error only means the caller stopped waiting; the publish carries on.
func (r *PublishResult) Get(ctx context.Context) (string, error) {
	select {
	case <-r.ready:
		return r.id, r.err
	default:
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.ready:
		return r.id, r.err
	}
}

// OnDone registers fn to run once the result is resolved. If the result is
// already resolved fn runs immediately on the calling goroutine; otherwise it
// runs on the goroutine that resolves it.
func (r *PublishResult) OnDone(fn func(id string, err error)) {
	r.mu.Lock()
	if !r.done {
		r.callbacks = append(r.callbacks, fn)
		r.mu.Unlock()
		return
	}
	id, err := r.id, r.err
	r.mu.Unlock()

	fn(id, err)
}

// resolve sets the outcome. It returns false if the result was already resolved.
func (r *PublishResult) resolve(id string, err error) bool {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return false
	}
	r.id, r.err, r.done = id, err, true
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.ready)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(id, err)
	}
	return true
}

package mqpub

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

// Publisher batches messages per topic, sends the batches through a
// Transport, retries transient failures and resolves one PublishResult per
// message.
//
// Publish may be called from any number of goroutines. Each topic has at most
// one open batch; sealed batches are sent on their own goroutines, so several
// batches of the same topic may be in flight at once.
type Publisher struct {
	transport Transport
	batching  BatchSettings
	retry     RetryPolicy
	log       *zap.SugaredLogger
	metrics   *Metrics

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	seq atomic.Uint64

	// mu is held for reading by every Publish and for writing by Stop, so no
	// publish can slip in after Stop has drained the topics.
	mu      sync.RWMutex
	stopped bool

	topicsMu sync.Mutex
	topics   map[string]*topicState
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Publisher) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics records publisher metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher creates a Publisher that sends through transport.
// If settings.Breaker is enabled the transport is wrapped in a circuit breaker.
func NewPublisher(transport Transport, settings PublishSettings, opts ...Option) (*Publisher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is nil")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid publish settings: %w", err)
	}

	p := &Publisher{
		transport: transport,
		batching:  settings.Batch,
		retry:     settings.Retry,
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
		after:     time.After,
		topics:    make(map[string]*topicState),
	}
	for _, opt := range opts {
		opt(p)
	}

	if settings.Breaker.Enabled {
		p.transport = NewBreakerTransport(transport, settings.Breaker, settings.Retry.RetryCodes, p.log)
	}

	return p, nil
}

// Publish queues msg for topicID and returns its completion handle.
//
// A message with an empty topic or empty payload, or one published after
// Stop, is not queued: the returned handle is already resolved with a
// *ValidationError. The message is copied, so the caller may reuse it.
func (p *Publisher) Publish(topicID string, msg *Message) *PublishResult {
	res := newPublishResult(p.seq.Add(1))

	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.validate(topicID, msg); err != nil {
		p.metrics.observePublished(topicID, statusInvalid, 1)
		res.resolve("", err)
		return res
	}

	t := p.topic(topicID)
	p.enqueue(t, &pendingPublish{
		seq:    res.seq,
		msg:    msg.clone(),
		result: res,
	})

	return res
}

func (p *Publisher) validate(topicID string, msg *Message) error {
	switch {
	case p.stopped:
		return &ValidationError{Topic: topicID, Reason: "publisher is stopped", Err: ErrPublisherStopped}
	case topicID == "":
		return &ValidationError{Reason: "topic is empty"}
	case msg == nil || len(msg.Data) == 0:
		return &ValidationError{Topic: topicID, Reason: "message payload is empty"}
	}
	return nil
}

// Flush seals the open batch of topicID, if any, and sends it now.
func (p *Publisher) Flush(topicID string) {
	p.topicsMu.Lock()
	t, ok := p.topics[topicID]
	p.topicsMu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	var b *batch
	if t.open != nil {
		b = t.seal(sealFlush)
	}
	t.mu.Unlock()

	if b != nil {
		go p.dispatch(t, b)
	}
}

// WaitAll blocks until every message published to topicID before the call
// has been resolved, or until ctx is done. Messages published while WaitAll
// is blocked are not waited for.
//
// WaitAll must not be called from an OnDone callback of the same topic: those
// run on the dispatching goroutine and the wait would include itself.
func (p *Publisher) WaitAll(ctx context.Context, topicID string) error {
	p.topicsMu.Lock()
	t, ok := p.topics[topicID]
	p.topicsMu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	w := t.watch()
	t.mu.Unlock()
	if w == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		t.mu.Lock()
		t.unwatch(w)
		t.mu.Unlock()
		return fmt.Errorf("waiting for %q: %w", topicID, ctx.Err())
	case <-w.done:
		return nil
	}
}

// Pending returns the number of unresolved messages for topicID.
func (p *Publisher) Pending(topicID string) int {
	p.topicsMu.Lock()
	t, ok := p.topics[topicID]
	p.topicsMu.Unlock()
	if !ok {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Stop refuses further publishes, flushes every open batch and waits for all
// outstanding messages to resolve. Calling Stop again only waits.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.topicsMu.Lock()
	names := make([]string, 0, len(p.topics))
	for name := range p.topics {
		names = append(names, name)
	}
	p.topicsMu.Unlock()

	p.log.Infow("stopping publisher", "topics", len(names))

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		p.Flush(name)
		g.Go(func() error {
			return p.WaitAll(ctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.log.Info("publisher stopped")
	return nil
}

func (p *Publisher) topic(topicID string) *topicState {
	p.topicsMu.Lock()
	defer p.topicsMu.Unlock()

	t, ok := p.topics[topicID]
	if !ok {
		t = &topicState{
			name:     topicID,
			inflight: make(map[uint64]*pendingPublish),
		}
		p.topics[topicID] = t
	}
	return t
}

func (p *Publisher) enqueue(t *topicState, pp *pendingPublish) {
	n := pp.msg.size()
	var sealed []*batch

	t.mu.Lock()
	t.track(pp)
	p.metrics.setPending(t.name, len(t.inflight))

	if t.open != nil && !t.open.fits(n, p.batching) {
		sealed = append(sealed, t.seal(t.open.overflowReason(p.batching)))
	}

	if t.open == nil {
		b := newBatch(t.name, p.now())
		t.open = b
		t.timer = time.AfterFunc(p.batching.MaxLatency, func() {
			p.sealOnTimer(t, b)
		})
	}

	t.open.add(pp, n)
	if reason, full := t.open.full(p.batching); full {
		sealed = append(sealed, t.seal(reason))
	}
	t.mu.Unlock()

	for _, b := range sealed {
		go p.dispatch(t, b)
	}
}

func (p *Publisher) sealOnTimer(t *topicState, b *batch) {
	t.mu.Lock()
	if t.open != b {
		// Already sealed by a threshold or a flush.
		t.mu.Unlock()
		return
	}
	t.seal(sealLatency)
	t.mu.Unlock()

	p.dispatch(t, b)
}

// dispatch sends b until it succeeds, fails permanently or runs out of retry
// window, then resolves every handle in the batch.
func (p *Publisher) dispatch(t *topicState, b *batch) {
	p.metrics.observeBatch(b.topic, b.reason, len(b.items), b.bytes)
	p.log.Debugw("dispatching batch",
		"topic", b.topic,
		"messages", len(b.items),
		"bytes", b.bytes,
		"reason", b.reason,
	)

	msgs := b.messages()
	start := p.now()

	for {
		ids, err := p.send(b.topic, msgs)
		b.attempts++

		if err == nil {
			if len(ids) != len(msgs) {
				p.complete(t, b, nil, &PermanentError{
					Topic: b.topic,
					Code:  codes.Internal,
					Err:   fmt.Errorf("broker returned %d message ids for %d messages", len(ids), len(msgs)),
				})
				return
			}
			p.complete(t, b, ids, nil)
			return
		}

		code := Classify(err)
		if !p.retry.Retryable(code) {
			p.log.Errorw("batch failed permanently",
				"topic", b.topic,
				"code", codeName(code),
				"attempts", b.attempts,
				"error", err,
			)
			p.complete(t, b, nil, &PermanentError{Topic: b.topic, Code: code, Err: err})
			return
		}

		elapsed := p.now().Sub(start)
		if elapsed >= p.retry.TotalTimeout {
			p.log.Errorw("batch retries exhausted",
				"topic", b.topic,
				"code", codeName(code),
				"attempts", b.attempts,
				"elapsed", elapsed,
				"error", err,
			)
			p.complete(t, b, nil, &RetryExhaustedError{
				Topic:    b.topic,
				Code:     code,
				Attempts: b.attempts,
				Elapsed:  elapsed,
				Err:      err,
			})
			return
		}

		delay := p.retry.Delay(b.attempts - 1)
		p.metrics.observeRetry(b.topic, code)
		p.log.Warnw("retrying batch",
			"topic", b.topic,
			"code", codeName(code),
			"attempt", b.attempts,
			"delay", delay,
			"error", err,
		)
		<-p.after(delay)
	}
}

func (p *Publisher) send(topicID string, msgs []*Message) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.retry.RPCTimeout)
	defer cancel()

	start := time.Now()
	ids, err := p.transport.SendBatch(ctx, topicID, msgs)
	p.metrics.observeSend(topicID, time.Since(start), err)
	return ids, err
}

// complete resolves the handles of b in the order their messages were added.
func (p *Publisher) complete(t *topicState, b *batch, ids []string, err error) {
	for i, pp := range b.items {
		if err != nil {
			pp.result.resolve("", err)
			continue
		}
		pp.result.resolve(ids[i], nil)
	}

	status := statusSuccess
	if err != nil {
		status = statusOf(err)
	}
	p.metrics.observePublished(b.topic, status, len(b.items))

	t.mu.Lock()
	for _, pp := range b.items {
		t.untrack(pp.seq)
	}
	p.metrics.setPending(t.name, len(t.inflight))
	t.mu.Unlock()
}

// topicState is the per-topic serialization point. mu guards the open batch,
// its latency timer, the in-flight set and the waiters.
type topicState struct {
	name string

	mu       sync.Mutex
	open     *batch
	timer    *time.Timer
	inflight map[uint64]*pendingPublish
	waiters  []*waiter
}

// waiter is one WaitAll call. pending holds the sequences that were in flight
// when it started; done is closed once all of them are resolved.
type waiter struct {
	pending map[uint64]struct{}
	done    chan struct{}
}

// seal detaches the open batch. Callers hold t.mu.
func (t *topicState) seal(reason sealReason) *batch {
	b := t.open
	b.reason = reason
	t.open = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return b
}

// track adds pp to the in-flight set. Callers hold t.mu.
func (t *topicState) track(pp *pendingPublish) {
	t.inflight[pp.seq] = pp
}

// untrack removes seq from the in-flight set and releases every waiter it was
// the last outstanding message of. Callers hold t.mu.
func (t *topicState) untrack(seq uint64) {
	if _, ok := t.inflight[seq]; !ok {
		return
	}
	delete(t.inflight, seq)

	waiters := t.waiters[:0]
	for _, w := range t.waiters {
		delete(w.pending, seq)
		if len(w.pending) == 0 {
			close(w.done)
			continue
		}
		waiters = append(waiters, w)
	}
	t.waiters = waiters
}

// watch registers a waiter for the current in-flight set. It returns nil when
// nothing is in flight. Callers hold t.mu.
func (t *topicState) watch() *waiter {
	if len(t.inflight) == 0 {
		return nil
	}
	w := &waiter{
		pending: make(map[uint64]struct{}, len(t.inflight)),
		done:    make(chan struct{}),
	}
	for seq := range t.inflight {
		w.pending[seq] = struct{}{}
	}
	t.waiters = append(t.waiters, w)
	return w
}

// unwatch drops a waiter that gave up. Callers hold t.mu.
func (t *topicState) unwatch(w *waiter) {
	t.waiters = slices.DeleteFunc(t.waiters, func(o *waiter) bool { return o == w })
}

package mqpub

import (
	"errors"
	"fmt"
	"time"
)

// Default batch thresholds.
const (
	DefaultMaxMessages = 100
	DefaultMaxBytes    = 1 << 20
	DefaultMaxLatency  = 10 * time.Millisecond
)

// BatchSettings bounds how large and how old a batch may grow before it is sent.
type BatchSettings struct {
	MaxMessages int
	MaxBytes    int
	MaxLatency  time.Duration
}

// DefaultBatchSettings returns the default thresholds.
func DefaultBatchSettings() BatchSettings {
	return BatchSettings{
		MaxMessages: DefaultMaxMessages,
		MaxBytes:    DefaultMaxBytes,
		MaxLatency:  DefaultMaxLatency,
	}
}

func (s BatchSettings) Validate() error {
	var errs []error
	if s.MaxMessages < 1 {
		errs = append(errs, fmt.Errorf("max messages %d must be >= 1", s.MaxMessages))
	}
	if s.MaxBytes < 1 {
		errs = append(errs, fmt.Errorf("max bytes %d must be >= 1", s.MaxBytes))
	}
	if s.MaxLatency <= 0 {
		errs = append(errs, fmt.Errorf("max latency %s must be > 0", s.MaxLatency))
	}
	return errors.Join(errs...)
}

// sealReason records which threshold closed a batch.
type sealReason string

const (
	sealCount   sealReason = "count"
	sealBytes   sealReason = "bytes"
	sealLatency sealReason = "latency"
	sealFlush   sealReason = "flush"
)

// pendingPublish is one message waiting for its broker assigned ID.
type pendingPublish struct {
	seq    uint64
	msg    *Message
	result *PublishResult
}

// batch is an ordered group of messages for one topic.
type batch struct {
	topic   string
	items   []*pendingPublish
	bytes   int
	created time.Time
	reason  sealReason

	// attempts counts SendBatch calls made for the whole batch.
	attempts int
}

func newBatch(topic string, now time.Time) *batch {
	return &batch{topic: topic, created: now}
}

// fits reports whether a message of n bytes can join the batch without
// breaking a size threshold. An empty batch accepts anything so an oversized
// message still goes out, alone.
func (b *batch) fits(n int, s BatchSettings) bool {
	if len(b.items) == 0 {
		return true
	}
	return len(b.items)+1 <= s.MaxMessages && b.bytes+n <= s.MaxBytes
}

// overflowReason names the threshold the next message would break.
func (b *batch) overflowReason(s BatchSettings) sealReason {
	if len(b.items)+1 > s.MaxMessages {
		return sealCount
	}
	return sealBytes
}

func (b *batch) add(p *pendingPublish, n int) {
	b.items = append(b.items, p)
	b.bytes += n
}

// full reports whether the batch has reached a size threshold and can take no more.
func (b *batch) full(s BatchSettings) (sealReason, bool) {
	switch {
	case len(b.items) >= s.MaxMessages:
		return sealCount, true
	case b.bytes >= s.MaxBytes:
		return sealBytes, true
	}
	return "", false
}

func (b *batch) messages() []*Message {
	msgs := make([]*Message, len(b.items))
	for i, p := range b.items {
		msgs[i] = p.msg
	}
	return msgs
}

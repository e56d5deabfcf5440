package mqpub

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// StoredMessage is a message accepted by a MemoryBroker.
type StoredMessage struct {
	ID      string
	Message *Message
}

// MemoryBroker is an in-process Broker for local runs and tests.
// Topics must be created before messages can be sent to them.
type MemoryBroker struct {
	mu     sync.Mutex
	topics map[string][]StoredMessage
	faults []error
	calls  int
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string][]StoredMessage)}
}

// InjectFaults makes the next len(errs) SendBatch calls fail with errs, in order.
func (b *MemoryBroker) InjectFaults(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults = append(b.faults, errs...)
}

// SendBatch stores messages under fresh UUIDs.
func (b *MemoryBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if len(b.faults) > 0 {
		err := b.faults[0]
		b.faults = b.faults[1:]
		return nil, err
	}

	stored, ok := b.topics[topicID]
	if !ok {
		return nil, NewTransportError(codes.NotFound, fmt.Errorf("topic %q not found", topicID))
	}

	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = uuid.NewString()
		stored = append(stored, StoredMessage{ID: ids[i], Message: m})
	}
	b.topics[topicID] = stored

	return ids, nil
}

// CreateTopic creates a new topic.
// This is an idempotent call and returns no error if the topic already exists.
func (b *MemoryBroker) CreateTopic(_ context.Context, topicID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topicID]; !ok {
		b.topics[topicID] = nil
	}
	return nil
}

// DeleteTopic deletes a topic and everything stored in it.
func (b *MemoryBroker) DeleteTopic(_ context.Context, topicID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topicID]; !ok {
		return NewTransportError(codes.NotFound, fmt.Errorf("topic %q not found", topicID))
	}
	delete(b.topics, topicID)
	return nil
}

// ListTopics returns topic IDs in lexical order.
func (b *MemoryBroker) ListTopics(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.topics))
	for id := range b.topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Messages returns a copy of what topicID has accepted so far.
func (b *MemoryBroker) Messages(topicID string) []StoredMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StoredMessage(nil), b.topics[topicID]...)
}

// Calls returns the number of SendBatch calls made, failed ones included.
func (b *MemoryBroker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Close does nothing.
func (b *MemoryBroker) Close() error {
	return nil
}

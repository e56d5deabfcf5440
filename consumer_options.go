package mqpub

// ConsumerOptions represents options for the way messages are to
// be consumed and handled from the queue
type ConsumerOptions struct {
	// The maximum number of messages to lease from the queue at any given time.
	MaxOutstandingMessages int

	// Concurrency is the number of handler goroutines.
	Concurrency int
}

func (o *ConsumerOptions) withDefaults() ConsumerOptions {
	out := ConsumerOptions{MaxOutstandingMessages: 10, Concurrency: 1}
	if o == nil {
		return out
	}
	if o.MaxOutstandingMessages > 0 {
		out.MaxOutstandingMessages = o.MaxOutstandingMessages
	}
	if o.Concurrency > 0 {
		out.Concurrency = o.Concurrency
	}
	return out
}

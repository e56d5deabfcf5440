package mqpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_Thresholds(t *testing.T) {
	s := BatchSettings{MaxMessages: 3, MaxBytes: 100, MaxLatency: time.Second}
	b := newBatch("t", time.Now())

	assert.True(t, b.fits(1000, s), "empty batch takes anything")

	for i := range 2 {
		b.add(&pendingPublish{seq: uint64(i)}, 10)
		_, full := b.full(s)
		assert.False(t, full)
	}
	assert.True(t, b.fits(10, s))
	assert.False(t, b.fits(81, s))
	assert.Equal(t, sealBytes, b.overflowReason(s))

	b.add(&pendingPublish{seq: 2}, 10)
	reason, full := b.full(s)
	require.True(t, full)
	assert.Equal(t, sealCount, reason)
	assert.False(t, b.fits(1, s))
	assert.Equal(t, sealCount, b.overflowReason(s))
}

func TestBatch_FullOnBytes(t *testing.T) {
	s := BatchSettings{MaxMessages: 10, MaxBytes: 20, MaxLatency: time.Second}
	b := newBatch("t", time.Now())
	b.add(&pendingPublish{}, 20)

	reason, full := b.full(s)
	require.True(t, full)
	assert.Equal(t, sealBytes, reason)
}

func TestBatchSettings_Validate(t *testing.T) {
	require.NoError(t, DefaultBatchSettings().Validate())
	assert.Equal(t, BatchSettings{MaxMessages: 100, MaxBytes: 1 << 20, MaxLatency: 10 * time.Millisecond}, DefaultBatchSettings())

	err := BatchSettings{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max messages")
	assert.Contains(t, err.Error(), "max bytes")
	assert.Contains(t, err.Error(), "max latency")
}

func TestMessage_SizeAndClone(t *testing.T) {
	m := &Message{Data: []byte("12345"), Attributes: map[string]string{"ab": "cde"}}
	assert.Equal(t, 10, m.size())

	c := m.clone()
	c.Data[0] = 'x'
	c.Attributes["ab"] = "z"
	assert.Equal(t, "12345", string(m.Data))
	assert.Equal(t, "cde", m.Attributes["ab"])
}

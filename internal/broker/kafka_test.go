package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader hands out messages in order, then cancels the consumer.
type scriptedReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	fetchErrs []error
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptedReader) Close() error { return nil }

func TestStartConsumingRetriesFailedMessageInPlace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		messages: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		cancel:   cancel,
	}
	c := NewConsumerWithReader(reader, "payment-events")
	c.retryDelay = 0

	var seen []int64
	failures := 2
	err := c.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		seen = append(seen, msg.Offset)
		if msg.Offset == 2 && failures > 0 {
			failures--
			return errors.New("database unavailable")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2, 2, 2, 3}, seen)
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestStartConsumingNeverCommitsPastAFailingMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		messages: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}},
		cancel:   cancel,
	}
	c := NewConsumerWithReader(reader, "payment-events")
	c.retryDelay = 0

	attempts := 0
	err := c.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		if msg.Offset != 2 {
			return nil
		}
		attempts++
		if attempts == 5 {
			cancel()
		}
		return errors.New("database unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, attempts)
	assert.Equal(t, []int64{1}, reader.committed)
	require.Len(t, reader.messages, 1, "offset 3 is never fetched while 2 is failing")
	assert.Equal(t, int64(3), reader.messages[0].Offset)
}

func TestStartConsumingRetriesFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		messages:  []kafka.Message{{Offset: 7}},
		fetchErrs: []error{errors.New("broker not available")},
		cancel:    cancel,
	}
	c := NewConsumerWithReader(reader, "payment-events")
	c.retryDelay = 0

	handled := 0
	err := c.StartConsuming(ctx, func(context.Context, kafka.Message) error {
		handled++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, handled)
	assert.Equal(t, []int64{7}, reader.committed)
}

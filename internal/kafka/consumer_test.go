package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *scriptReader) FetchMessage(context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, context.Canceled
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *scriptReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *scriptReader) Close() error { return nil }

func TestStartCommitsOnlyHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &scriptReader{
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte("ok")},
			{Offset: 2, Value: []byte("boom")},
			{Offset: 3, Value: []byte("ok")},
		},
		cancel: cancel,
	}
	c := &Consumer{r: r, topic: "courier.tracking", workers: 1}

	err := c.Start(ctx, func(_ context.Context, m kafka.Message) error {
		if string(m.Value) == "boom" {
			return errors.New("handler failed")
		}
		return nil
	})
	require.NoError(t, err)

	// the failed message's offset stays uncommitted so it is redelivered
	assert.ElementsMatch(t, []int64{1, 3}, r.committed)
}

package kafka

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message was fully processed and
// the offset may be committed. A non-nil error leaves the offset alone
// so the message is redelivered.
type Handler func(ctx context.Context, m kafka.Message) error

const maxFetchBytes = 10 << 20

// reader is the slice of kafka.Reader the consumer depends on.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	topic   string
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       maxFetchBytes,
			CommitInterval: 0, // manual commit
		}),
		topic:   topic,
		workers: workers,
	}
}

// Start reads from the group and fans messages out to the worker pool.
// FetchMessage, not ReadMessage: with a group id set, ReadMessage
// commits the offset at read time and a handler failure could never be
// redelivered.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			close(jobs)
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	if err := h(ctx, m); err != nil {
		log.Printf("consume topic=%s partition=%d offset=%d: %v", c.topic, m.Partition, m.Offset, err)
		// leave the offset uncommitted; brief pause before the redelivery
		time.Sleep(200 * time.Millisecond)
		return
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		log.Printf("commit topic=%s partition=%d offset=%d: %v", c.topic, m.Partition, m.Offset, err)
	}
}

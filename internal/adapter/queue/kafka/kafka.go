// Package kafka implements the change queue on top of a Kafka topic. Producers
// publish newly registered URLs and the drain loop consumes them in batches.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// ChangeQueue reads at most batchSize messages per drain and waits no longer
// than drainWait for them to arrive. Offsets are committed after the read, so
// a crash before the commit redelivers the batch.
type ChangeQueue struct {
	reader    messageReader
	writer    messageWriter
	batchSize int
	drainWait time.Duration
	logger    *slog.Logger
}

func NewChangeQueue(
	reader messageReader,
	writer messageWriter,
	batchSize int,
	drainWait time.Duration,
	logger *slog.Logger,
) *ChangeQueue {
	return &ChangeQueue{
		reader:    reader,
		writer:    writer,
		batchSize: batchSize,
		drainWait: drainWait,
		logger:    logger,
	}
}

func (q *ChangeQueue) Enqueue(ctx context.Context, url string) error {
	const op = "adapter.queue.kafka.ChangeQueue.Enqueue"

	msg := kafka.Message{Key: []byte(url), Value: []byte(url)}

	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: failed to publish url: %w", op, err)
	}

	return nil
}

// DrainBatch returns the distinct URLs of the messages fetched within the
// drain window.
func (q *ChangeQueue) DrainBatch(ctx context.Context) ([]string, error) {
	const op = "adapter.queue.kafka.ChangeQueue.DrainBatch"

	fetchCtx, cancel := context.WithTimeout(ctx, q.drainWait)
	defer cancel()

	var msgs []kafka.Message

	for len(msgs) < q.batchSize {
		msg, err := q.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", op, ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(msgs) == 0 {
				return nil, fmt.Errorf("%s: failed to fetch message: %w", op, err)
			}

			q.logger.Warn("fetch interrupted, draining partial batch", slog.Any("err", err))
			break
		}

		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return nil, nil
	}

	urls := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))

	for _, msg := range msgs {
		url := string(msg.Value)
		if url == "" {
			q.logger.Warn("skipping empty message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			continue
		}
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}

	if err := q.reader.CommitMessages(ctx, msgs...); err != nil {
		q.logger.Error("failed to commit offsets, batch will be redelivered",
			slog.Int("messages", len(msgs)),
			slog.Any("err", err),
		)
	}

	return urls, nil
}

func (q *ChangeQueue) Close() error {
	return errors.Join(q.reader.Close(), q.writer.Close())
}

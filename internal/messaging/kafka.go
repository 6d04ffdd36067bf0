package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Additional-Code/loadmatch/internal/config"
)

const fetchRetryDelay = time.Second

// kafkaClient publishes order events with a synchronous writer and consumes
// them through a consumer-group reader, committing only handled offsets.
type kafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
	topic  string
	logger *zap.Logger
}

func newKafkaClient(cfg config.Messaging, logger *zap.Logger) *kafkaClient {
	zl := kafkaLogger{logger: logger.Named("kafka")}
	return &kafkaClient{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Logger:       zl,
			ErrorLogger:  zl,
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.ConsumerGroup,
			Topic:          cfg.Kafka.Topic,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: cfg.Kafka.CommitInterval,
			Dialer: &kafka.Dialer{
				Timeout:  cfg.Kafka.ConnectTimeout,
				ClientID: cfg.Kafka.ClientID,
			},
		}),
		topic:  cfg.Kafka.Topic,
		logger: logger,
	}
}

func (k *kafkaClient) Publish(ctx context.Context, msg Message) error {
	return k.writer.WriteMessages(ctx, toKafka(msg))
}

// Consume blocks until ctx ends. A failed handler leaves its offset
// uncommitted so the message is redelivered after a rebalance.
func (k *kafkaClient) Consume(ctx context.Context, handler Handler) error {
	for {
		raw, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			k.logger.Error("kafka fetch failed", zap.Error(err))
			if !sleep(ctx, fetchRetryDelay) {
				return ctx.Err()
			}
			continue
		}

		if err := handler(ctx, fromKafka(raw)); err != nil {
			k.logger.Error("message handler failed",
				zap.Error(err),
				zap.Int("partition", raw.Partition),
				zap.Int64("offset", raw.Offset),
			)
			continue
		}
		if err := k.reader.CommitMessages(ctx, raw); err != nil {
			k.logger.Warn("commit failed", zap.Error(err), zap.Int64("offset", raw.Offset))
		}
	}
}

func (k *kafkaClient) Topic() string { return k.topic }
func (k *kafkaClient) Enabled() bool { return true }

func (k *kafkaClient) Close() error {
	k.logger.Info("closing kafka client")
	return errors.Join(k.writer.Close(), k.reader.Close())
}

// toKafka drops msg.Topic: the writer owns the topic.
func toKafka(msg Message) kafka.Message {
	out := kafka.Message{Key: msg.Key, Value: msg.Value}
	for name, value := range msg.Headers {
		out.Headers = append(out.Headers, kafka.Header{Key: name, Value: []byte(value)})
	}
	return out
}

func fromKafka(raw kafka.Message) Message {
	msg := Message{
		Topic:  raw.Topic,
		Key:    append([]byte(nil), raw.Key...),
		Value:  append([]byte(nil), raw.Value...),
		Offset: raw.Offset,
		Time:   raw.Time,
	}
	if len(raw.Headers) == 0 {
		return msg
	}
	msg.Headers = make(map[string]string, len(raw.Headers))
	for _, h := range raw.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

type kafkaLogger struct {
	logger *zap.Logger
}

func (k kafkaLogger) Printf(msg string, args ...any) {
	k.logger.Sugar().Debugf(msg, args...)
}

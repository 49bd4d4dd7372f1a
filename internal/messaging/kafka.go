package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/internal/config"
)

// PassTrigger asks a runner to execute one recomputation pass.
type PassTrigger struct {
	JobID       uuid.UUID `json:"job_id"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
	RetryCount  int       `json:"retry_count"`
}

// Handler processes one trigger. Returning a Permanent error skips retries.
type Handler func(ctx context.Context, trigger PassTrigger) error

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type MessageBus struct {
	writer     messageWriter
	reader     messageReader
	dlqWriter  messageWriter
	topic      string
	maxRetries int
	baseDelay  time.Duration
	logger     *logrus.Logger
}

func NewMessageBus(cfg *config.Config, logger *logrus.Logger) (*MessageBus, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}
	topics := cfg.Kafka.Topics

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topics.PassTriggers,
		Balancer:     &kafka.Hash{}, // keyed by pass kind
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          topics.PassTriggers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	dlqWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topics.PassTriggersDLQ,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &MessageBus{
		writer:     writer,
		reader:     reader,
		dlqWriter:  dlqWriter,
		topic:      topics.PassTriggers,
		maxRetries: cfg.Kafka.MaxRetries,
		baseDelay:  time.Second,
		logger:     logger,
	}, nil
}

func (mb *MessageBus) PublishPassTrigger(ctx context.Context, jobID uuid.UUID, kind string) error {
	trigger := PassTrigger{
		JobID:       jobID,
		Kind:        kind,
		RequestedAt: time.Now(),
	}

	value, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(kind),
		Value: value,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(jobID.String())},
			{Key: "pass_kind", Value: []byte(kind)},
			{Key: "timestamp", Value: []byte(trigger.RequestedAt.Format(time.RFC3339))},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := mb.writer.WriteMessages(ctx, message); err != nil {
		mb.logger.WithError(err).WithField("job_id", jobID).Error("Failed to publish message to Kafka")
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"kind":   kind,
		"topic":  mb.topic,
	}).Info("Pass trigger published")

	return nil
}

// ConsumeMessages runs handler for every trigger until ctx ends. Triggers
// that still fail after retries go to the dead letter topic.
func (mb *MessageBus) ConsumeMessages(ctx context.Context, handler Handler) error {
	for {
		message, err := mb.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mb.logger.WithError(err).Error("Failed to read message from Kafka")
			continue
		}

		var trigger PassTrigger
		if err := json.Unmarshal(message.Value, &trigger); err != nil {
			mb.logger.WithError(err).Error("Failed to unmarshal Kafka message")
			if dlqErr := mb.sendToDLQ(ctx, message.Value, uuid.Nil, err); dlqErr != nil {
				mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
			}
			continue
		}

		mb.handle(ctx, trigger, handler)
	}
}

func (mb *MessageBus) handle(ctx context.Context, trigger PassTrigger, handler Handler) {
	err := mb.processWithRetry(ctx, trigger, handler)
	if err == nil || ctx.Err() != nil {
		return
	}

	mb.logger.WithError(err).WithField("job_id", trigger.JobID).Error("Failed to process message after retries")
	value, _ := json.Marshal(trigger)
	if dlqErr := mb.sendToDLQ(ctx, value, trigger.JobID, err); dlqErr != nil {
		mb.logger.WithError(dlqErr).Error("Failed to send message to DLQ")
	}
}

func (mb *MessageBus) processWithRetry(ctx context.Context, trigger PassTrigger, handler Handler) error {
	for attempt := 0; attempt <= mb.maxRetries; attempt++ {
		if attempt > 0 {
			// exponential backoff
			delay := mb.baseDelay * time.Duration(1<<uint(attempt-1))
			mb.logger.WithFields(logrus.Fields{
				"job_id":  trigger.JobID,
				"attempt": attempt,
				"delay":   delay,
			}).Info("Retrying message processing")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		trigger.RetryCount = attempt
		err := handler(ctx, trigger)
		if err == nil {
			mb.logger.WithFields(logrus.Fields{
				"job_id":  trigger.JobID,
				"attempt": attempt,
			}).Info("Message processed successfully")
			return nil
		}

		mb.logger.WithError(err).WithFields(logrus.Fields{
			"job_id":  trigger.JobID,
			"attempt": attempt,
		}).Warn("Message processing failed")

		var permanent permanentError
		if errors.As(err, &permanent) {
			return err
		}
		if attempt == mb.maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
	}

	return fmt.Errorf("unexpected retry loop exit")
}

func (mb *MessageBus) sendToDLQ(ctx context.Context, original []byte, jobID uuid.UUID, originalError error) error {
	dlqMessage := map[string]interface{}{
		"original_message": json.RawMessage(original),
		"error":            originalError.Error(),
		"dlq_timestamp":    time.Now(),
	}
	if !json.Valid(original) {
		dlqMessage["original_message"] = string(original)
	}

	dlqBytes, err := json.Marshal(dlqMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(jobID.String()),
		Value: dlqBytes,
		Headers: []kafka.Header{
			{Key: "job_id", Value: []byte(jobID.String())},
			{Key: "original_topic", Value: []byte(mb.topic)},
			{Key: "error", Value: []byte(originalError.Error())},
		},
	}

	if err := mb.dlqWriter.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to DLQ: %w", err)
	}

	mb.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"error":  originalError.Error(),
	}).Warn("Message sent to DLQ")

	return nil
}

func (mb *MessageBus) Close() error {
	var errs []error

	if err := mb.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close producer: %w", err))
	}

	if err := mb.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close consumer: %w", err))
	}

	if err := mb.dlqWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close DLQ writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing message bus: %v", errs)
	}

	return nil
}

// Stats returns consumer counters for the health endpoint.
func (mb *MessageBus) Stats() map[string]interface{} {
	reader, ok := mb.reader.(*kafka.Reader)
	if !ok {
		return map[string]interface{}{}
	}
	stats := reader.Stats()
	return map[string]interface{}{
		"consumer_lag":    stats.Lag,
		"consumer_offset": stats.Offset,
		"messages_read":   stats.Messages,
		"rebalances":      stats.Rebalances,
		"errors":          stats.Errors,
	}
}

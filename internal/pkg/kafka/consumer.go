package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/config"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

// ErrPoison marks a message that can never be processed; it skips retries
// and goes straight to the dead letter topic.
var ErrPoison = errors.New("kafka: unprocessable message")

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer runs a consumer group loop with per-message retries and a DLQ.
type Consumer struct {
	group     sarama.ConsumerGroup
	config    *config.KafkaConfig
	handler   MessageHandler
	dlq       *Producer
	topics    []string
	logger    *logger.Logger
	ready     chan struct{}
	readyOnce sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewConsumer joins groupID on the configured brokers. dlq may be nil, in
// which case failed messages are only logged.
func NewConsumer(cfg *config.KafkaConfig, groupID string, topics []string, handler MessageHandler, dlq *Producer, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_6_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.ReadTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 10 * time.Second
	sc.Metadata.Retry.Max = 3
	sc.Metadata.Retry.Backoff = 250 * time.Millisecond
	sc.Metadata.Timeout = 10 * time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newConsumer(group, cfg, topics, handler, dlq, log), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg *config.KafkaConfig, topics []string, handler MessageHandler, dlq *Producer, log *logger.Logger) *Consumer {
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		dlq:     dlq,
		topics:  topics,
		logger:  log.Named("kafka"),
		ready:   make(chan struct{}),
	}
}

// Start consumes in the background until ctx is cancelled or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{consumer: c}
		for {
			if err := c.group.Consume(ctx, c.topics, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consumer group session failed", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Warn("consumer group error", zap.Error(err))
			}
		}
	}()
}

// Ready is closed once the first group session has been set up.
func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	return nil
}

// process runs the handler with retries and dead-letters the message on failure.
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) {
	err := c.processWithRetry(ctx, msg)
	if err == nil || ctx.Err() != nil {
		return
	}
	c.logger.Warn("message processing failed",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	)
	if dlqErr := c.sendToDLQ(ctx, msg, err); dlqErr != nil {
		c.logger.Error("failed to dead-letter message", zap.Error(dlqErr))
	}
}

func (c *Consumer) processWithRetry(ctx context.Context, msg *sarama.ConsumerMessage) error {
	maxRetries := c.config.Consumer.MaxRetries
	backoff := time.Duration(c.config.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoison) {
			return err
		}
		lastErr = err

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Consumer) sendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	if c.dlq == nil || c.config.Topics.DLQ == "" {
		return nil
	}
	dlqMsg := &sarama.ProducerMessage{
		Topic: c.config.Topics.DLQ,
		Key:   sarama.ByteEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("x-original-topic"), Value: []byte(msg.Topic)},
			{Key: []byte("x-error"), Value: []byte(cause.Error())},
		},
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := c.dlq.producer.SendMessage(dlqMsg); err != nil {
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}
	return nil
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.readyOnce.Do(func() { close(h.consumer.ready) })
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			h.consumer.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

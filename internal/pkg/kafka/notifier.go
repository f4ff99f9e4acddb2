package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/PulseChat/internal/model"
	logger "github.com/Gopher0727/PulseChat/middleware/log"
)

const EventMessageCreated = "message.created"

// MessageEvent is the record published for every persisted message.
type MessageEvent struct {
	Type       string         `json:"type"`
	Message    *model.Message `json:"message"`
	NodeID     string         `json:"node_id"`
	OccurredAt time.Time      `json:"occurred_at"`
}

const defaultQueueSize = 1024

// Notifier publishes message.created events keyed by receiver id, so all
// events for one receiver land on the same partition in order.
// NotifyNewMessage only enqueues; a single worker does the broker round trips.
type Notifier struct {
	producer   *Producer
	topic      string
	nodeID     string
	maxRetries int
	logger     *logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan pendingEvent
	dropped atomic.Int64
	wg      sync.WaitGroup
	once    sync.Once
}

type pendingEvent struct {
	ctx context.Context
	msg *model.Message
}

func NewNotifier(producer *Producer, topic, nodeID string, log *logger.Logger) *Notifier {
	size := producer.config.Producer.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	n := &Notifier{
		producer:   producer,
		topic:      topic,
		nodeID:     nodeID,
		maxRetries: producer.config.Producer.MaxRetries,
		logger:     log.Named("kafka-notifier"),
		queue:      make(chan pendingEvent, size),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

// Publish sends synchronously and returns the broker error, unlike NotifyNewMessage.
func (n *Notifier) Publish(ctx context.Context, msg *model.Message) error {
	value, err := json.Marshal(MessageEvent{
		Type:       EventMessageCreated,
		Message:    msg,
		NodeID:     n.nodeID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message event: %w", err)
	}
	_, _, err = n.producer.ProduceWithRetry(ctx, n.topic, []byte(msg.ReceiverID), value, n.maxRetries)
	return err
}

// NotifyNewMessage queues the event and returns at once. The message is
// already persisted, so a full queue or a failed publish is only logged.
func (n *Notifier) NotifyNewMessage(ctx context.Context, msg *model.Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.WarnContext(ctx, "notifier closed, dropping message event", zap.String("message_id", msg.ID))
		return
	}
	// 请求结束后 ctx 会被取消，只保留其中的值
	select {
	case n.queue <- pendingEvent{ctx: context.WithoutCancel(ctx), msg: msg}:
	default:
		n.logger.WarnContext(ctx, "publish queue full, dropping message event",
			zap.String("message_id", msg.ID),
			zap.String("receiver_id", msg.ReceiverID),
			zap.Int64("dropped", n.dropped.Add(1)),
		)
	}
}

func (n *Notifier) run() {
	defer n.wg.Done()
	for ev := range n.queue {
		if err := n.Publish(ev.ctx, ev.msg); err != nil {
			n.logger.WarnContext(ev.ctx, "failed to publish message event",
				zap.String("message_id", ev.msg.ID),
				zap.String("receiver_id", ev.msg.ReceiverID),
				zap.Error(err),
			)
		}
	}
}

// Close publishes whatever is still queued, then releases the producer.
func (n *Notifier) Close() error {
	var err error
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.queue)
		n.mu.Unlock()

		n.wg.Wait()
		err = n.producer.Close()
	})
	return err
}

// Deliverer receives decoded messages on the consuming side.
type Deliverer interface {
	NotifyNewMessage(ctx context.Context, msg *model.Message)
}

// DeliveryHandler decodes message.created events and hands them to target.
// Undecodable records are marked poison so they skip retries.
func DeliveryHandler(target Deliverer) MessageHandler {
	return func(ctx context.Context, record *sarama.ConsumerMessage) error {
		var event MessageEvent
		if err := json.Unmarshal(record.Value, &event); err != nil {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		if event.Type != EventMessageCreated {
			// 其他事件类型直接忽略
			return nil
		}
		if event.Message == nil || event.Message.ReceiverID == "" {
			return fmt.Errorf("%w: event without message", ErrPoison)
		}
		target.NotifyNewMessage(ctx, event.Message)
		return nil
	}
}

// GroupID derives a per-node consumer group so every node sees every event
// and delivers to the receivers connected to it.
func GroupID(base, nodeID string) string {
	return base + "-" + nodeID
}

package service

import (
	"context"

	"github.com/Gopher0727/PulseChat/internal/model"
)

// MessageNotifier is told about every persisted message. Implementations
// deliver best effort and never fail the caller.
type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, msg *model.Message)
}

// MultiNotifier fans a message out to every notifier in order.
type MultiNotifier []MessageNotifier

func (m MultiNotifier) NotifyNewMessage(ctx context.Context, msg *model.Message) {
	for _, n := range m {
		n.NotifyNewMessage(ctx, msg)
	}
}

// NopNotifier drops every message.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMessage(context.Context, *model.Message) {}

package jobs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/certified-builder/api/internal/domain"
)

// CompletionHandler processes the payload of one completion message.
type CompletionHandler interface {
	HandleMessage(ctx context.Context, data []byte) (domain.EventOutcome, error)
}

// Logger mirrors the service logging hook.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CompletionSubscriber pulls certificate completion messages from a subscription.
type CompletionSubscriber struct {
	sub     *pubsub.Subscription
	handler CompletionHandler
	logger  Logger
}

// SubscriberOption customises the subscriber.
type SubscriberOption func(*CompletionSubscriber)

// WithSubscriberLogger attaches a logger.
func WithSubscriberLogger(logger Logger) SubscriberOption {
	return func(s *CompletionSubscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxOutstandingMessages bounds how many messages are handled concurrently.
func WithMaxOutstandingMessages(n int) SubscriberOption {
	return func(s *CompletionSubscriber) {
		if n > 0 {
			s.sub.ReceiveSettings.MaxOutstandingMessages = n
			s.sub.ReceiveSettings.NumGoroutines = 1
		}
	}
}

// NewCompletionSubscriber constructs a subscriber delivering messages to handler.
func NewCompletionSubscriber(sub *pubsub.Subscription, handler CompletionHandler, opts ...SubscriberOption) (*CompletionSubscriber, error) {
	if sub == nil {
		return nil, errors.New("completion subscriber: subscription is required")
	}
	if handler == nil {
		return nil, errors.New("completion subscriber: handler is required")
	}
	s := &CompletionSubscriber{
		sub:     sub,
		handler: handler,
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run receives messages until ctx is cancelled.
func (s *CompletionSubscriber) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, s.receive)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("completion subscriber: receive: %w", err)
	}
	return nil
}

func (s *CompletionSubscriber) receive(ctx context.Context, msg *pubsub.Message) {
	outcome, err := s.handler.HandleMessage(ctx, msg.Data)
	fields := map[string]any{
		"messageId": msg.ID,
		"processed": outcome.Processed,
		"skipped":   outcome.Skipped,
		"failed":    outcome.Failed,
		"retryable": outcome.Retryable,
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger(ctx, "completion.nack", map[string]any{"messageId": msg.ID, "error": err.Error()})
			msg.Nack()
			return
		}
		// undecodable payloads are acknowledged so they are not redelivered forever
		fields["error"] = err.Error()
		s.logger(ctx, "completion.discarded", fields)
		msg.Ack()
		return
	}
	if outcome.Redeliver() {
		s.logger(ctx, "completion.nack", fields)
		msg.Nack()
		return
	}
	s.logger(ctx, "completion.handled", fields)
	msg.Ack()
}

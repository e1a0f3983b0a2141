package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"

	domain "github.com/certified-builder/api/internal/domain"
)

// PubSubOrderPublisher publishes batches of new orders to the certificate build topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order publisher. Message ordering is
// enabled on the topic so one batch keeps its group key.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   func() string { return ulid.Make().String() },
	}, nil
}

// PublishNewOrders enqueues one message carrying the JSON array of orders. An empty list is a
// no-op and returns an empty message id.
func (p *PubSubOrderPublisher) PublishNewOrders(ctx context.Context, orders []domain.RawOrder) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}
	if len(orders) == 0 {
		return "", nil
	}

	data, err := p.marshal(orders)
	if err != nil {
		return "", fmt.Errorf("marshal orders: %w", err)
	}

	groupID := p.newID()
	attrs := make(map[string]string)
	setAttr(attrs, "groupId", groupID)
	setAttr(attrs, "dedupId", p.newID())
	setAttr(attrs, "orderCount", strconv.Itoa(len(orders)))
	if productID := orders[0].ProductID; productID > 0 {
		attrs["productId"] = strconv.Itoa(productID)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: groupID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		p.topic.ResumePublish(groupID)
		return "", fmt.Errorf("publish orders: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

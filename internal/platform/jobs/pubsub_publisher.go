package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/groupdiscount/api/internal/services"
)

// PubSubConfigEventPublisher publishes discount configuration change events
// to a Pub/Sub topic for downstream consumers (theme cache warmers, audit).
type PubSubConfigEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubConfigEventPublisher constructs a Pub/Sub backed event publisher.
func NewPubSubConfigEventPublisher(topic *pubsub.Topic) (*PubSubConfigEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub config event publisher: topic is required")
	}
	return &PubSubConfigEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishConfigEvent enqueues a configuration change event on the topic.
func (p *PubSubConfigEventPublisher) PublishConfigEvent(ctx context.Context, event services.ConfigEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub config event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal config event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "shopId", event.ShopID)
	setAttr(attrs, "action", event.Action)
	setAttr(attrs, "groupId", event.GroupID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish config event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

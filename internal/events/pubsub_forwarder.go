package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// MessagePublisher sends one encoded event to an external topic.
type MessagePublisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// PubSubForwarder relays selected bus events to Google Cloud Pub/Sub.
type PubSubForwarder struct {
	publisher MessagePublisher
	logger    *zap.Logger
	closeFn   func() error
}

// NewPubSubForwarder connects to the given project and topic.
func NewPubSubForwarder(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubForwarder, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	tp := &topicPublisher{topic: topic, logger: logger}
	return &PubSubForwarder{
		publisher: tp,
		logger:    logger,
		closeFn: func() error {
			topic.Stop()
			return client.Close()
		},
	}, nil
}

// NewForwarder builds a forwarder over an arbitrary publisher.
func NewForwarder(publisher MessagePublisher, logger *zap.Logger) *PubSubForwarder {
	return &PubSubForwarder{publisher: publisher, logger: logger}
}

// Register subscribes the forwarder to the given types.
func (f *PubSubForwarder) Register(bus Dispatcher, types ...EventType) {
	for _, t := range types {
		bus.Subscribe(t, f.Handle)
	}
}

// Handle encodes and forwards one event.
func (f *PubSubForwarder) Handle(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	attrs := map[string]string{
		"event_type": string(event.Type),
		"source":     event.Source,
	}
	if err := f.publisher.Publish(ctx, data, attrs); err != nil {
		return fmt.Errorf("forward event: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (f *PubSubForwarder) Close() error {
	if f == nil || f.closeFn == nil {
		return nil
	}
	return f.closeFn()
}

type topicPublisher struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// Publish enqueues the message and confirms delivery off the caller's path,
// so a slow broker never stalls bus delivery.
func (p *topicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	go func() {
		if _, err := res.Get(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("pubsub publish failed",
				zap.String("event_type", attrs["event_type"]),
				zap.Error(err))
		}
	}()
	return nil
}

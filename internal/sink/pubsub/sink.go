// Package pubsub publishes extracted items to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/sink"
)

// AttrRunID is the message attribute carrying the crawl run ID.
const AttrRunID = "run_id"

// Config names the destination topic.
type Config struct {
	ProjectID string
	Topic     string
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Sink publishes each item as a JSON record.
type Sink struct {
	publish publishFunc
	close   func() error
}

// New dials Pub/Sub and returns a Sink publishing to cfg.Topic.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("sink.pubsub.project_id and sink.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := client.Publisher(cfg.Topic)
	s := NewWithPublisher(publisher)
	s.close = func() error {
		publisher.Stop()
		if err := client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
		return nil
	}
	return s, nil
}

// NewWithPublisher wraps an existing topic publisher. The caller owns the client.
func NewWithPublisher(publisher *pubsub.Publisher) *Sink {
	return newSink(func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return publisher.Publish(ctx, msg).Get(ctx)
	}, func() error {
		publisher.Stop()
		return nil
	})
}

func newSink(publish publishFunc, closeFn func() error) *Sink {
	return &Sink{publish: publish, close: closeFn}
}

// Append marshals the item record and waits for the publish to be acknowledged.
func (s *Sink) Append(ctx context.Context, item crawler.ExtractedItem) error {
	data, err := json.Marshal(item.Serialize())
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if runID := sink.RunID(ctx); runID != "" {
		msg.Attributes[AttrRunID] = runID
	}
	otel.GetTextMapPropagator().Inject(ctx, &messageCarrier{attrs: msg.Attributes})

	if _, err := s.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *Sink) Close(context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// messageCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type messageCarrier struct {
	attrs map[string]string
}

func (c *messageCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *messageCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *messageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}

// Package events publishes price-change notifications for downstream
// consumers (the dimensional build listens for these instead of polling the
// event table).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/aidosq/kolesa-ingest/internal/silver"
)

// Publisher emits price-change events. Publishing is advisory: the event is
// already durable in silver.listing_price_event, so failures here are logged
// by the caller, never fatal.
type Publisher interface {
	PublishPriceChange(ctx context.Context, change silver.PriceChange) error
	Close() error
}

// NoOpPublisher drops events; used when no topic is configured.
type NoOpPublisher struct{}

// PublishPriceChange for NoOpPublisher does nothing.
func (NoOpPublisher) PublishPriceChange(context.Context, silver.PriceChange) error { return nil }

// Close for NoOpPublisher does nothing.
func (NoOpPublisher) Close() error { return nil }

// PubSubPublisher sends events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubPublisher creates a Pub/Sub client and verifies the topic exists.
// It authenticates via Application Default Credentials.
func NewPubSubPublisher(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close pubsub client after topic check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

// PublishPriceChange sends one JSON payload and waits for the server ack.
func (p *PubSubPublisher) PublishPriceChange(ctx context.Context, change silver.PriceChange) error {
	payload, err := json.Marshal(map[string]any{
		"listing_id":    change.ListingID,
		"old_price_kzt": change.OldPrice,
		"new_price_kzt": change.NewPrice,
		"event_ts":      change.At.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal price event: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish price event for %d: %w", change.ListingID, err)
	}
	return nil
}

// Close stops the topic's publish goroutines and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

// Package pubsub publishes run completion notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Config selects the project and default topic.
type Config struct {
	ProjectID string
	TopicName string
}

// Publisher sends JSON payloads to Pub/Sub topics. Topic handles are created
// on first use and reused.
type Publisher struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a client for cfg.ProjectID and checks that the default topic exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p := NewWithClient(client, logger)
	if cfg.TopicName != "" {
		ok, err := client.Topic(cfg.TopicName).Exists(ctx)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicName, err)
		}
		if !ok {
			_ = client.Close()
			return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicName, cfg.ProjectID)
		}
	}
	return p, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *pubsub.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger, topics: map[string]*pubsub.Topic{}}
}

// Publish marshals payload to JSON and waits for the server to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.client == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	if topic == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	if m, ok := payload.(map[string]any); ok {
		if id, ok := m["run_id"].(string); ok {
			msg.Attributes["run_id"] = id
		}
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	p.logger.Debug("pubsub message published", zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

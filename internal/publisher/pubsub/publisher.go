// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Config selects the project and default topic.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	Topic     string `mapstructure:"topic" yaml:"topic"`
}

// attributer is implemented by payloads that carry their own message attributes.
type attributer interface {
	Attributes() map[string]string
}

type sendFunc func(ctx context.Context, topic string, msg *pubsub.Message) (string, error)

// Publisher publishes JSON payloads, keeping one topic publisher per topic.
type Publisher struct {
	client       *pubsub.Client
	defaultTopic string
	send         sendFunc

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New dials Pub/Sub for cfg.ProjectID.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client, cfg.Topic), nil
}

// NewWithClient wraps an existing client. defaultTopic is used when Publish
// receives an empty topic.
func NewWithClient(client *pubsub.Client, defaultTopic string) *Publisher {
	p := &Publisher{
		client:       client,
		defaultTopic: defaultTopic,
		publishers:   make(map[string]*pubsub.Publisher),
	}
	p.send = p.sendViaClient
	return p
}

// Publish marshals the payload to JSON and publishes it to topic, or to the
// default topic when topic is empty.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	msg, err := newMessage(ctx, payload)
	if err != nil {
		return "", err
	}
	return p.send(ctx, topic, msg)
}

func newMessage(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	if a, ok := payload.(attributer); ok {
		for k, v := range a.Attributes() {
			msg.Attributes[k] = v
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

func (p *Publisher) sendViaClient(ctx context.Context, topic string, msg *pubsub.Message) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	result := p.publisherFor(topic).Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) publisherFor(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

// Stop flushes every topic publisher and closes the client.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}

package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type change struct {
	URL string `json:"url"`
}

func (c change) Attributes() map[string]string {
	return map[string]string{"stage": "CHANGE_DETECTED"}
}

func newCapturingPublisher(defaultTopic string) (*Publisher, *[]string, *[]*pubsub.Message) {
	var topics []string
	var msgs []*pubsub.Message
	p := NewWithClient(nil, defaultTopic)
	p.send = func(_ context.Context, topic string, msg *pubsub.Message) (string, error) {
		topics = append(topics, topic)
		msgs = append(msgs, msg)
		return "msg-1", nil
	}
	return p, &topics, &msgs
}

func TestPublishUsesDefaultTopicAndAttributes(t *testing.T) {
	p, topics, msgs := newCapturingPublisher("page-changes")

	id, err := p.Publish(context.Background(), "", change{URL: "https://a.test"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.Equal(t, []string{"page-changes"}, *topics)

	msg := (*msgs)[0]
	var decoded change
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "https://a.test", decoded.URL)
	assert.Equal(t, "CHANGE_DETECTED", msg.Attributes["stage"])
}

func TestPublishInjectsTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	p, _, msgs := newCapturingPublisher("topic")
	_, err := p.Publish(ctx, "explicit", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.NotEmpty(t, (*msgs)[0].Attributes["traceparent"])
}

func TestPublishWithoutTopicFails(t *testing.T) {
	p, _, _ := newCapturingPublisher("")
	_, err := p.Publish(context.Background(), "", "payload")
	assert.Error(t, err)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	p, _, _ := newCapturingPublisher("topic")
	_, err := p.Publish(context.Background(), "", func() {})
	assert.Error(t, err)
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStopWithoutClient(t *testing.T) {
	p := NewWithClient(nil, "topic")
	assert.NoError(t, p.Stop())
}

package prescreen

import (
	"context"

	"github.com/synaptica-ai/prescreen/pkg/common/kafka"
)

const (
	EventSessionCreated    = "prescreen.session.created"
	EventSessionTerminated = "prescreen.session.terminated"
	EventSessionCompleted  = "prescreen.session.completed"
	EventPipelineDone      = "prescreen.pipeline.done"

	eventSource = "prescreen-service"
)

// Publisher emits session lifecycle events keyed by session.
type Publisher interface {
	Publish(ctx context.Context, key, eventType string, data map[string]interface{}) error
}

type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key, eventType string, data map[string]interface{}) error {
	return p.producer.PublishEvent(ctx, key, eventType, eventSource, data)
}

// NoopPublisher drops every event. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, map[string]interface{}) error {
	return nil
}

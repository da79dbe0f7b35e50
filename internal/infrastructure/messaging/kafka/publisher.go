package kafka

import (
	"context"

	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

const sourceService = "epiextract"

// Publisher is the part of Producer the event publisher needs.
type Publisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
}

// EventPublisher publishes extraction.completed events keyed by document id.
type EventPublisher struct {
	producer      Publisher
	topic         string
	includeResult bool
}

// NewEventPublisher publishes to topic. With includeResult the full result
// travels in the payload; otherwise only the summary.
func NewEventPublisher(producer Publisher, topic string, includeResult bool) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic, includeResult: includeResult}
}

// PublishExtractionCompleted publishes the completion event of result.
func (p *EventPublisher) PublishExtractionCompleted(ctx context.Context, result *epi.ExtractionResult) error {
	payload := ExtractionCompletedPayload{
		ExtractionSummary: result.Summary(),
		DurationMS:        result.DurationMS,
	}
	if p.includeResult {
		payload.Result = result
	}
	env, err := NewEventEnvelope(EventExtractionCompleted, sourceService, payload)
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(p.topic, result.DocumentID)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, msg)
}

// SubmitDocument publishes a document.submitted event for doc on topic.
func SubmitDocument(ctx context.Context, producer Publisher, topic string, doc *epi.AnnotatedDocument) error {
	env, err := NewEventEnvelope(EventDocumentSubmitted, sourceService, DocumentSubmittedPayload{Document: doc})
	if err != nil {
		return err
	}
	msg, err := env.ToMessage(topic, doc.ID)
	if err != nil {
		return err
	}
	return producer.Publish(ctx, msg)
}

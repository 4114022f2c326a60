package crawler

import (
	"context"
	"errors"
	"fmt"
)

// DocumentStoredEvent is published for every appended record.
type DocumentStoredEvent struct {
	Type   string         `json:"type"`
	Record DocumentRecord `json:"record"`
}

// PublisherSink forwards records to a Publisher topic.
type PublisherSink struct {
	publisher Publisher
	topic     string
}

// NewPublisherSink wraps publisher as a RecordSink.
func NewPublisherSink(publisher Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// Record publishes a document.stored event.
func (s *PublisherSink) Record(ctx context.Context, record DocumentRecord) error {
	event := DocumentStoredEvent{Type: "document.stored", Record: record}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		return fmt.Errorf("publish %s: %w", record.Reference, err)
	}
	return nil
}

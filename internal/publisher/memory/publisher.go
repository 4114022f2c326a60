// Package memory collects document notifications in process memory. It backs
// pubsub.backend=memory, where a crawl runs without a broker and the stored
// events are only logged and inspected.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
)

// PublishedMessage is one notification handed to the publisher.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements crawler.Publisher without delivering anything.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish keeps payload and returns a sequential memory-N message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// StoredRecords returns the records of every document.stored event on topic,
// in publish order.
func (p *Publisher) StoredRecords(topic string) []crawler.DocumentRecord {
	var records []crawler.DocumentRecord
	for _, msg := range p.Messages() {
		event, ok := msg.Payload.(crawler.DocumentStoredEvent)
		if !ok || msg.Topic != topic {
			continue
		}
		records = append(records, event.Record)
	}
	return records
}

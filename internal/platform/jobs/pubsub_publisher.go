package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/repairdesk/api/internal/platform/requestctx"
	"github.com/repairdesk/api/internal/services"
)

// ticketEventMessage is the JSON payload consumers receive.
type ticketEventMessage struct {
	Type           string         `json:"type"`
	TicketID       string         `json:"ticketId"`
	TicketNumber   string         `json:"ticketNumber,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubTicketEventPublisher publishes ticket domain events to a Pub/Sub topic.
// Messages are ordered per ticket when the topic has message ordering enabled.
type PubSubTicketEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.TicketEventPublisher = (*PubSubTicketEventPublisher)(nil)

// NewPubSubTicketEventPublisher constructs a Pub/Sub backed ticket event publisher.
func NewPubSubTicketEventPublisher(topic *pubsub.Topic) (*PubSubTicketEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub ticket event publisher: topic is required")
	}
	return &PubSubTicketEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishTicketEvent sends the event and waits for the server acknowledgement.
func (p *PubSubTicketEventPublisher) PublishTicketEvent(ctx context.Context, event services.TicketEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub ticket event publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" || strings.TrimSpace(event.TicketID) == "" {
		return errors.New("pubsub ticket event publisher: event type and ticket id are required")
	}

	data, err := p.marshal(ticketEventMessage{
		Type:           event.Type,
		TicketID:       event.TicketID,
		TicketNumber:   event.TicketNumber,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal ticket event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "ticketId", event.TicketID)
	setAttr(attrs, "ticketNumber", event.TicketNumber)
	setAttr(attrs, "traceId", requestctx.TraceID(ctx))

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.TicketID
	}

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish ticket event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

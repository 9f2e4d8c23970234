// Package events publishes committed moderation transitions to Kafka so
// downstream services (notifications, blob cleanup) can react.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

type Type string

const (
	ListingCreated         Type = "listing.created"
	ListingApproved        Type = "listing.approved"
	ListingRejected        Type = "listing.rejected"
	ListingPhotoAttached   Type = "listing.photo_attached"
	EditRequestSubmitted   Type = "edit_request.submitted"
	EditRequestApproved    Type = "edit_request.approved"
	EditRequestRejected    Type = "edit_request.rejected"
	DeleteRequestSubmitted Type = "delete_request.submitted"
	DeleteRequestApproved  Type = "delete_request.approved"
	DeleteRequestRejected  Type = "delete_request.rejected"
)

// Event is one committed transition. OrphanedPhotos is set on approved
// deletions so the blob collaborator can reclaim the objects.
type Event struct {
	Type           Type      `json:"type"`
	ListingID      uint64    `json:"listingId"`
	RequestID      string    `json:"requestId,omitempty"`
	Actor          string    `json:"actor"`
	OccurredAt     time.Time `json:"occurredAt"`
	Reason         string    `json:"reason,omitempty"`
	OrphanedPhotos []string  `json:"orphanedPhotos,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Config holds Kafka configuration.
type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

// Publish writes evt keyed by listing id, so all events for one listing land
// on the same partition in commit order.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := Message(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", evt.Type, p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Message encodes evt as a Kafka message.
func Message(evt Event) (kafka.Message, error) {
	if evt.Type == "" {
		return kafka.Message{}, fmt.Errorf("event type is required")
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatUint(evt.ListingID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
			{Key: "actor", Value: []byte(evt.Actor)},
		},
	}, nil
}

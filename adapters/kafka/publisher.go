package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/goliatone/go-outreach/core"
)

const DefaultTopic = "outreach.inbound-events"

// Message is the record value written for each recorded inbound event.
type Message struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	DedupKey   string         `json:"dedup_key"`
	ContentID  string         `json:"content_id,omitempty"`
	ContactID  string         `json:"contact_id,omitempty"`
	Email      string         `json:"email,omitempty"`
	FormID     string         `json:"form_id,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	ReceivedAt time.Time      `json:"received_at"`
}

func NewMessage(event core.InboundEvent) Message {
	return Message{
		ID:         event.ID,
		Name:       string(event.Name),
		DedupKey:   event.DedupKey,
		ContentID:  event.ContentID,
		ContactID:  event.ContactID,
		Email:      event.Email,
		FormID:     event.FormID,
		CampaignID: event.CampaignID,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt.UTC(),
		ReceivedAt: event.ReceivedAt.UTC(),
	}
}

// Publisher fans recorded inbound events out to a Kafka topic. Records are
// keyed by dedup key so redeliveries of one event land on one partition.
type Publisher struct {
	topic    string
	producer sarama.SyncProducer
}

// NewProducerConfig returns the sync producer settings the publisher expects.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond
	return cfg
}

// Dial connects a sync producer to brokers.
func Dial(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, core.NewValidationError("kafka: at least one broker is required")
	}
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, core.NewUnavailableError("kafka: create sync producer", err)
	}
	return NewPublisher(producer, topic), nil
}

func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{topic: topic, producer: producer}
}

func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

func (p *Publisher) Publish(ctx context.Context, event core.InboundEvent) error {
	if p == nil || p.producer == nil {
		return core.NewUnavailableError("kafka: producer is not configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(NewMessage(event))
	if err != nil {
		return core.NewInternalError("kafka: encode inbound event", err)
	}
	key := strings.TrimSpace(event.DedupKey)
	if key == "" {
		key = event.ID
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event.Name)},
		},
		Timestamp: event.ReceivedAt,
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return core.NewUnavailableError(fmt.Sprintf("kafka: send %s event", event.Name), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

var _ core.EventPublisher = (*Publisher)(nil)

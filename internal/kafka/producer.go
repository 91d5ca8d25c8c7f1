package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-rsvp/internal/models"
)

// Event types attached to every message so consumers on the single RSVP
// topic can dispatch without decoding the payload first.
const (
	EventRSVPCreated   = "rsvp_created"
	EventRSVPConfirmed = "rsvp_confirmed"
	EventRSVPCancelled = "rsvp_cancelled"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer}
}

func (p *Producer) publish(eventType string, reservation models.Reservation) error {
	msgBytes, err := json.Marshal(reservation)
	if err != nil {
		return err
	}
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(reservation.ID),
			Value: msgBytes,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(eventType)},
			},
		},
	)
}

// PublishRSVPCreated streams a pending-reservation event to Kafka.
func (p *Producer) PublishRSVPCreated(reservation models.Reservation) error {
	return p.publish(EventRSVPCreated, reservation)
}

// PublishRSVPConfirmed streams a confirmation event to Kafka.
func (p *Producer) PublishRSVPConfirmed(reservation models.Reservation) error {
	return p.publish(EventRSVPConfirmed, reservation)
}

// PublishRSVPCancelled streams a cancellation event to Kafka.
func (p *Producer) PublishRSVPCancelled(reservation models.Reservation) error {
	return p.publish(EventRSVPCancelled, reservation)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

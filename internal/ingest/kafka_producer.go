package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-dispatch/internal/models"
)

// Event is the envelope exported to the dispatch-events topic. Downstream
// consumers (the redis geo projection, analytics) key off Type.
type Event struct {
	Type       string           `json:"type"`
	RiderID    string           `json:"riderId,omitempty"`
	DeliveryID string           `json:"deliveryId,omitempty"`
	Status     string           `json:"status,omitempty"`
	Location   *models.Location `json:"location,omitempty"`
	At         time.Time        `json:"at"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &Producer{writer: w}
}

func (p *Producer) Publish(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.RiderID
	if key == "" {
		key = ev.DeliveryID
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

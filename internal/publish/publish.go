// Package publish streams cycle results to Kafka so downstream consumers
// (dashboards, archives) can follow the detector without polling the API.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rewired-gh/crowdpulse/internal/models"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
)

// messageWriter is the part of kafka.Writer we use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the record written per cycle. It carries the city composite and
// the scored panel; heavy presentation fields stay in the API.
type Event struct {
	ID           string                  `json:"id"`
	Area         string                  `json:"area"`
	City         models.CitySnapshot     `json:"city"`
	Entities     []models.EntitySnapshot `json:"entities"`
	Confidence   int                     `json:"confidence"`
	Archetype    string                  `json:"archetype"`
	Provider     string                  `json:"provider"`
	Fallback     bool                    `json:"fallback"`
	Bootstrapped int                     `json:"bootstrapped"`
}

// Publisher writes one Kafka message per cycle, keyed by area so a city's
// snapshots stay ordered within a partition.
type Publisher struct {
	w       messageWriter
	area    string
	timeout time.Duration
}

// NewPublisher creates a synchronous writer for topic on brokers.
func NewPublisher(brokers []string, topic, area string) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}, area)
}

func newPublisher(w messageWriter, area string) *Publisher {
	return &Publisher{w: w, area: area, timeout: 10 * time.Second}
}

// Publish writes res. A failure is returned to the caller; it never affects
// the detection cycle that produced res.
func (p *Publisher) Publish(ctx context.Context, res *monitor.Result) error {
	payload, err := json.Marshal(Event{
		ID:           res.ID,
		Area:         p.area,
		City:         res.City,
		Entities:     res.Entities,
		Confidence:   res.Confidence.Value,
		Archetype:    res.Archetype.Label,
		Provider:     res.Provider,
		Fallback:     res.Fallback,
		Bootstrapped: res.Bootstrapped,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(p.area),
		Value: payload,
		Time:  res.City.Timestamp,
		Headers: []kafka.Header{
			{Key: "cycle_id", Value: []byte(res.ID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish cycle %s: %w", res.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

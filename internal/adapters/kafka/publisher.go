// Package kafka publishes finished reports to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/xerrors"

	"ospoolreport/internal/domain"
	"ospoolreport/internal/retry"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the published payload. Unmapped keys are reduced to counts; the
// full lists stay with the stored report.
type Event struct {
	ReportID     string                   `json:"report_id"`
	GeneratedAt  string                   `json:"generated_at"`
	Days         int                      `json:"days"`
	Total        domain.MonthlyDocument   `json:"total"`
	Months       []domain.MonthlyDocument `json:"months"`
	UnmappedKeys map[string]int           `json:"unmapped_keys"`
}

func NewEvent(r domain.Report) Event {
	unmapped := make(map[string]int, len(r.Unmapped))
	for category, recs := range r.Unmapped {
		unmapped[category] = len(recs)
	}
	return Event{
		ReportID:     r.ID,
		GeneratedAt:  r.GeneratedAt.Format(time.RFC3339),
		Days:         r.Days,
		Total:        r.Total,
		Months:       r.Months,
		UnmappedKeys: unmapped,
	}
}

type Publisher struct {
	w      messageWriter
	policy retry.Policy
}

func NewPublisher(brokers []string, topic string, policy retry.Policy) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		policy: policy,
	}
}

// Publish writes one message keyed by report id.
func (p *Publisher) Publish(ctx context.Context, r domain.Report) error {
	value, err := json.Marshal(NewEvent(r))
	if err != nil {
		return xerrors.Errorf("encode report event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(r.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "days", Value: []byte(strconv.Itoa(r.Days))},
		},
	}
	return p.policy.Do(ctx, func(ctx context.Context) error {
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			return retry.Retryable(xerrors.Errorf("write report event: %w", err))
		}
		return nil
	})
}

func (p *Publisher) Close() error { return p.w.Close() }

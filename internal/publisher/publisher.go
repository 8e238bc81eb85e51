// Package publisher emits completed shift reports to downstream consumers
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/savegress/shiftkpi/pkg/models"
)

// Publisher sends a report somewhere
type Publisher interface {
	Publish(ctx context.Context, report *models.Report) error
	Close() error
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	Topic        string
	ClientID     string
	MaxAttempts  int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes JSON reports keyed by shift ID
type Kafka struct {
	writer messageWriter
	topic  string
}

// NewKafka creates a synchronous writer acknowledged by all replicas
func NewKafka(cfg Config) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "shiftkpi"
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  maxInt(cfg.MaxAttempts, 1),
		BatchTimeout: batchTimeout,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
	return &Kafka{writer: w, topic: cfg.Topic}, nil
}

// Publish writes one message per report. Reports of the same shift share
// a key and therefore a partition.
func (k *Kafka) Publish(ctx context.Context, report *models.Report) error {
	if report == nil {
		return nil
	}
	value, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := report.Scope.ShiftID
	if key == "" {
		key = report.Scope.Start.UTC().Format(time.RFC3339)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "report_id", Value: []byte(report.ID)},
			{Key: "scope", Value: []byte(report.Scope.Kind)},
		},
		Time: report.GeneratedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish report %s: %w", report.ID, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Nop discards reports
type Nop struct{}

func (Nop) Publish(ctx context.Context, report *models.Report) error { return nil }
func (Nop) Close() error                                            { return nil }

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}

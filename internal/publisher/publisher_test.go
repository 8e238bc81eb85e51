package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savegress/shiftkpi/pkg/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublishKeysByShift(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{writer: w, topic: "reports"}

	generated := time.Date(2024, 1, 1, 16, 0, 0, 0, time.UTC)
	report := &models.Report{
		ID:          "r-1",
		Scope:       models.ReportScope{Kind: models.ScopeShift, ShiftID: "S1"},
		GeneratedAt: generated,
	}
	require.NoError(t, k.Publish(context.Background(), report))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "reports", msg.Topic)
	assert.Equal(t, "S1", string(msg.Key))
	assert.Equal(t, generated, msg.Time)

	var decoded models.Report
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "r-1", decoded.ID)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishWrapsErrors(t *testing.T) {
	boom := errors.New("broker down")
	k := &Kafka{writer: &fakeWriter{err: boom}, topic: "reports"}

	err := k.Publish(context.Background(), &models.Report{ID: "r-2"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestNewKafkaRequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafka(Config{Topic: "reports"})
	assert.Error(t, err)
	_, err = NewKafka(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	k, err := NewKafka(Config{Brokers: []string{"localhost:9092"}, Topic: "reports"})
	require.NoError(t, err)
	assert.NoError(t, k.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), &models.Report{}))
	assert.NoError(t, p.Close())
}

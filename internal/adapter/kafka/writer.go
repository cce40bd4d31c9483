package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/incident-feed-sync/internal/config"
	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes incidents from final snapshots to a Kafka topic, one
// message per incident keyed by incident id. An incident is republished only
// when its payload changed since the last successful write.
// It implements pipeline.Renderer.
type Writer struct {
	writer messageWriter
	logger *slog.Logger

	// published holds the last payload written per incident id. Only the
	// pipeline goroutine calls Render, so no locking is needed.
	published map[string][]byte
}

// NewWriter creates a Kafka producer for the configured snapshot topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newWriter(w, logger)
}

func newWriter(w messageWriter, logger *slog.Logger) *Writer {
	return &Writer{writer: w, logger: logger, published: make(map[string][]byte)}
}

func (w *Writer) Name() string { return "kafka" }

// Render publishes changed incidents of a final snapshot. Preliminary
// snapshots and snapshots not backed by a fresh listing are ignored.
func (w *Writer) Render(ctx context.Context, snap *domain.Snapshot) error {
	if !snap.Final || !snap.Live || snap.SchemaDrift {
		return nil
	}

	var msgs []kafkago.Message
	current := make(map[string][]byte, len(snap.Incidents))
	for _, inc := range snap.Incidents {
		msg, err := serializeToMessage(inc, snap.FetchedAt)
		if err != nil {
			return err
		}
		current[inc.ID] = msg.Value
		if prev, ok := w.published[inc.ID]; ok && bytes.Equal(prev, msg.Value) {
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) > 0 {
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish incidents: %w", err)
		}
		w.logger.Debug("published incidents", "count", len(msgs))
	}
	w.published = current
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an incident into a Kafka message. fetched_at
// goes in a header so an unchanged incident has the same value every cycle.
func serializeToMessage(inc domain.MappedIncident, fetchedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(inc)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(inc.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "category", Value: []byte(inc.Category.ID)},
			{Key: "status", Value: []byte(inc.Status)},
			{Key: "fetched_at", Value: []byte(fetchedAt.Format(time.RFC3339))},
		},
	}, nil
}

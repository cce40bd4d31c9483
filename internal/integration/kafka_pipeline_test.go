//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/incident-feed-sync/internal/adapter/feed"
	"github.com/couchcryptid/incident-feed-sync/internal/adapter/kafka"
	"github.com/couchcryptid/incident-feed-sync/internal/config"
	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/geocode"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
	"github.com/couchcryptid/incident-feed-sync/internal/pipeline"
	"github.com/couchcryptid/incident-feed-sync/internal/snapshot"
)

const testTopic = "test-incident-snapshots"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("incident-feed-test"))
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start kafka container")

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

type published struct {
	Incident domain.MappedIncident
	Key      string
	Headers  map[string]string
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) published {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from snapshot topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var inc domain.MappedIncident
	require.NoError(t, json.Unmarshal(msg.Value, &inc), "unmarshal incident message")
	return published{Incident: inc, Key: string(msg.Key), Headers: headers}
}

// mutableListing serves a listing page whose rows can be swapped between cycles.
type mutableListing struct {
	mu   sync.Mutex
	rows []string
}

func (l *mutableListing) set(rows ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = rows
}

func (l *mutableListing) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><table>\n<tr><th>Estado</th><th>Fecha</th><th>Tipo</th><th>Nro</th><th>Operador</th><th>Descripción</th><th>Dirección</th></tr>\n%s</table></body></html>",
		strings.Join(l.rows, "\n"))
}

func row(open bool, at time.Time, typ, id, addr string) string {
	marker := ""
	if open {
		marker = `<img src="abierto.gif">`
	}
	return fmt.Sprintf("<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>OP1</td><td></td><td>%s</td></tr>",
		marker, at.Format(feed.TimestampLayout), typ, id, addr)
}

type fixedGeocoder struct{}

func (fixedGeocoder) Geocode(_ context.Context, _ string) (domain.GeocodingResult, error) {
	return domain.GeocodingResult{Lat: -32.9468, Lon: -60.6393}, nil
}

// TestPipelinePublishesToKafka runs the full cycle against a served listing
// and a real broker, then checks that only changed incidents are republished.
func TestPipelinePublishesToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	art := time.FixedZone("ART", -3*60*60)
	now := time.Now().In(art).Truncate(time.Minute)

	listing := &mutableListing{}
	listing.set(
		row(true, now.Add(-5*time.Minute), "ROBO A TRANSEUNTE", "2025-1", "SAN MARTIN 1200"),
		row(false, now.Add(-20*time.Minute), "ACCIDENTE DE TRANSITO", "2025-2", "PELLEGRINI Y MORENO"),
	)
	srv := httptest.NewServer(listing)
	defer srv.Close()

	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewRealClock()

	taxonomy, err := domain.DefaultTaxonomy()
	require.NoError(t, err)

	fetcher := feed.NewFetcher(feed.Options{
		URL:        srv.URL,
		Timeout:    5 * time.Second,
		RetryDelay: time.Second,
		Window:     time.Hour,
	}, feed.NewParser("table tr", "img", art), clock, metrics, discardLogger())

	queue := geocode.NewQueue(fixedGeocoder{}, geocode.Config{
		Bounds:         domain.BoundingBox{MinLat: -33.05, MinLon: -60.80, MaxLat: -32.85, MaxLon: -60.60},
		Throttle:       time.Millisecond,
		RequestTimeout: time.Second,
	}, clock, metrics, discardLogger())
	go func() { _ = queue.Run(ctx) }()

	writer := kafka.NewWriter(&config.Config{KafkaBrokers: []string{broker}, KafkaTopic: testTopic}, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	p := pipeline.New(fetcher, domain.NewClassifier(taxonomy), queue,
		[]pipeline.Renderer{snapshot.NewStore(), writer},
		pipeline.DefaultTiers(), clock, discardLogger(), metrics)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	p.RunCycle(ctx)

	byKey := map[string]published{}
	for range 2 {
		m := readPublished(ctx, t, consumer)
		byKey[m.Key] = m
	}
	require.Contains(t, byKey, "2025-1")
	require.Contains(t, byKey, "2025-2")

	theft := byKey["2025-1"]
	assert.Equal(t, "theft", theft.Headers["category"])
	assert.Equal(t, "open", theft.Headers["status"])
	_, err = time.Parse(time.RFC3339, theft.Headers["fetched_at"])
	assert.NoError(t, err, "fetched_at should be valid RFC3339")
	require.NotNil(t, theft.Incident.Point)
	assert.InDelta(t, -32.9468, theft.Incident.Point.Lat, 1e-9)

	assert.Equal(t, "accident", byKey["2025-2"].Headers["category"])
	assert.Equal(t, "closed", byKey["2025-2"].Headers["status"])

	// The theft closes; only that incident is republished.
	listing.set(
		row(false, now.Add(-5*time.Minute), "ROBO A TRANSEUNTE", "2025-1", "SAN MARTIN 1200"),
		row(false, now.Add(-20*time.Minute), "ACCIDENTE DE TRANSITO", "2025-2", "PELLEGRINI Y MORENO"),
	)
	p.RunCycle(ctx)

	m := readPublished(ctx, t, consumer)
	assert.Equal(t, "2025-1", m.Key)
	assert.Equal(t, "closed", m.Headers["status"])

	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "unchanged incidents are not republished")
}

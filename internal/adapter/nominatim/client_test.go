package nominatim

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserAgent     = "incident-feed-sync-test/1.0"
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testBounds = domain.BoundingBox{MinLat: -33.05, MinLon: -60.80, MaxLat: -32.85, MaxLon: -60.60}

func testClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		userAgent:  testUserAgent,
		bounds:     testBounds,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Geocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "SAN MARTIN & CORDOBA, Rosario", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "1", r.URL.Query().Get("bounded"))
		assert.Equal(t, "-60.800000,-32.850000,-60.600000,-33.050000", r.URL.Query().Get("viewbox"))
		assert.Equal(t, testUserAgent, r.Header.Get("User-Agent"))

		w.Header().Set(headerContentType, contentTypeJSON)
		require.NoError(t, json.NewEncoder(w).Encode([]candidate{
			{Lat: "-32.9468", Lon: "-60.6393", DisplayName: "San Martín y Córdoba, Rosario", Importance: 0.61},
			{Lat: "-10", Lon: "-10", DisplayName: "ignored"},
		}))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	result, err := c.Geocode(context.Background(), "SAN MARTIN & CORDOBA, Rosario")
	require.NoError(t, err)

	assert.True(t, result.Found())
	assert.InDelta(t, -32.9468, result.Lat, 1e-9)
	assert.InDelta(t, -60.6393, result.Lon, 1e-9)
	assert.Equal(t, "San Martín y Córdoba, Rosario", result.FormattedAddress)
	assert.InDelta(t, 0.61, result.Confidence, 1e-9)
}

func TestClient_Geocode_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Geocode(context.Background(), "NOWHERE")
	require.NoError(t, err)
	assert.False(t, result.Found())
}

func TestClient_Geocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "MITRE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestClient_Geocode_BadCoordinate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"-60.6"}]`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Geocode(context.Background(), "MITRE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse lat")
}

func TestClient_Geocode_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := c.Geocode(context.Background(), "MITRE")
	require.Error(t, err)
}

func TestNewClient_DefaultBaseURL(t *testing.T) {
	c := NewClient("", testUserAgent, "ops@example.org", testBounds, time.Second,
		observability.NewMetricsForTesting(), slog.Default())
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
)

// DefaultBaseURL is the public OpenStreetMap Nominatim endpoint. Its usage
// policy allows at most one request per second and requires a User-Agent.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Client implements domain.Geocoder using the Nominatim search API.
// It performs no rate limiting of its own; callers go through geocode.Queue.
type Client struct {
	baseURL    string
	userAgent  string
	email      string
	bounds     domain.BoundingBox
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Nominatim geocoding client restricted to bounds.
func NewClient(baseURL, userAgent, email string, bounds domain.BoundingBox, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		userAgent: userAgent,
		email:     email,
		bounds:    bounds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode resolves a free-text query. A response with no candidates returns a
// zero result and a nil error.
func (c *Client) Geocode(ctx context.Context, query string) (domain.GeocodingResult, error) {
	params := url.Values{
		"q":       {query},
		"format":  {"json"},
		"limit":   {"1"},
		"bounded": {"1"},
		// viewbox is lon/lat ordered: left,top,right,bottom.
		"viewbox": {fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", c.bounds.MinLon, c.bounds.MaxLat, c.bounds.MaxLon, c.bounds.MinLat)},
	}
	if c.email != "" {
		params.Set("email", c.email)
	}

	start := time.Now()
	result, err := c.doRequest(ctx, c.baseURL+"/search?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) (domain.GeocodingResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.GeocodingResult{}, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var candidates []candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("decode response: %w", err)
	}

	if len(candidates) == 0 {
		return domain.GeocodingResult{}, nil
	}

	first := candidates[0]
	lat, err := strconv.ParseFloat(first.Lat, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lat %q: %w", first.Lat, err)
	}
	lon, err := strconv.ParseFloat(first.Lon, 64)
	if err != nil {
		return domain.GeocodingResult{}, fmt.Errorf("parse lon %q: %w", first.Lon, err)
	}

	c.logger.Debug("geocode candidate", "query_url", fullURL, "display_name", first.DisplayName)
	return domain.GeocodingResult{
		Lat:              lat,
		Lon:              lon,
		FormattedAddress: first.DisplayName,
		Confidence:       first.Importance,
	}, nil
}

// Nominatim API response types. Coordinates are JSON strings.

type candidate struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

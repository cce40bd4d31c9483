package domain

import "time"

// Status is the open/closed state of an incident as shown on the listing.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// IncidentRecord is one row of the live incident listing. Records are values:
// classification produces a new record rather than mutating the parsed one.
type IncidentRecord struct {
	ID          string    `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`
	OperatorID  string    `json:"operator_id"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Status      Status    `json:"status"`
	Category    Category  `json:"category"`
}

// IsOpen reports whether the incident is still in progress.
func (r IncidentRecord) IsOpen() bool { return r.Status == StatusOpen }

// WithCategory returns a copy of r carrying the given category.
func (r IncidentRecord) WithCategory(c Category) IncidentRecord {
	r.Category = c
	return r
}

// FeedPage is the result of one listing fetch. Live is false when every
// attempt failed; callers keep showing their last-known-good data in that case.
type FeedPage struct {
	Records     []IncidentRecord
	Live        bool
	SchemaDrift bool
	Skipped     int
	FetchedAt   time.Time
}

// GeoPoint represents a WGS-84 latitude/longitude coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox restricts geocoding results to the service area.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Valid reports whether the box has a positive area.
func (b BoundingBox) Valid() bool {
	return b.MinLat < b.MaxLat && b.MinLon < b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}

// MappedIncident pairs a classified record with its resolved location.
// Point is nil while the address is unresolved or when geocoding failed.
type MappedIncident struct {
	IncidentRecord
	Point *GeoPoint `json:"point,omitempty"`
}

// RefreshState summarizes the current incident set for interval selection.
type RefreshState struct {
	PendingCount        int  `json:"pending_count"`
	HasCriticalCategory bool `json:"has_critical_category"`
	LastIntervalSec     int  `json:"last_interval_sec"`
}

// DeriveRefreshState counts open incidents and checks whether any of them
// belongs to a critical category. Closed incidents never count.
func DeriveRefreshState(records []IncidentRecord) RefreshState {
	var st RefreshState
	for _, r := range records {
		if !r.IsOpen() {
			continue
		}
		st.PendingCount++
		if r.Category.Critical {
			st.HasCriticalCategory = true
		}
	}
	return st
}

// Snapshot is the rendered state handed to every renderer. A snapshot is
// never modified after it is published; each cycle builds a new one.
type Snapshot struct {
	Incidents   []MappedIncident `json:"incidents"`
	Live        bool             `json:"live"`
	SchemaDrift bool             `json:"schema_drift"`
	Final       bool             `json:"final"`
	FetchedAt   time.Time        `json:"fetched_at"`
	RenderedAt  time.Time        `json:"rendered_at"`
	Refresh     RefreshState     `json:"refresh"`
}

// Find returns the incident with the given id.
func (s *Snapshot) Find(id string) (MappedIncident, bool) {
	if s == nil {
		return MappedIncident{}, false
	}
	for _, inc := range s.Incidents {
		if inc.ID == id {
			return inc, true
		}
	}
	return MappedIncident{}, false
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveRefreshState(t *testing.T) {
	theft := Category{ID: "theft", Critical: true}
	noise := Category{ID: "noise"}

	tests := []struct {
		name     string
		records  []IncidentRecord
		expected RefreshState
	}{
		{"empty", nil, RefreshState{}},
		{"closed only", []IncidentRecord{
			{Status: StatusClosed, Category: theft},
			{Status: StatusClosed, Category: noise},
		}, RefreshState{}},
		{"open non critical", []IncidentRecord{
			{Status: StatusOpen, Category: noise},
			{Status: StatusOpen, Category: noise},
		}, RefreshState{PendingCount: 2}},
		{"closed critical does not count", []IncidentRecord{
			{Status: StatusOpen, Category: noise},
			{Status: StatusClosed, Category: theft},
		}, RefreshState{PendingCount: 1}},
		{"open critical", []IncidentRecord{
			{Status: StatusOpen, Category: noise},
			{Status: StatusOpen, Category: theft},
		}, RefreshState{PendingCount: 2, HasCriticalCategory: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveRefreshState(tt.records))
		})
	}
}

func TestIncidentRecord_WithCategory(t *testing.T) {
	r := IncidentRecord{ID: "1", Status: StatusOpen}
	c := r.WithCategory(Category{ID: "theft"})

	assert.Equal(t, "theft", c.Category.ID)
	assert.Empty(t, r.Category.ID)
	assert.True(t, c.IsOpen())
}

func TestBoundingBox(t *testing.T) {
	b := BoundingBox{MinLat: -33.05, MinLon: -60.80, MaxLat: -32.85, MaxLon: -60.60}
	assert.True(t, b.Valid())
	assert.True(t, b.Contains(GeoPoint{Lat: -32.95, Lon: -60.65}))
	assert.True(t, b.Contains(GeoPoint{Lat: -33.05, Lon: -60.60}), "edges are inside")
	assert.False(t, b.Contains(GeoPoint{Lat: -34.60, Lon: -58.38}))

	assert.False(t, BoundingBox{}.Valid())
	assert.False(t, BoundingBox{MinLat: -32, MinLon: -60, MaxLat: -33, MaxLon: -61}.Valid())
	assert.False(t, BoundingBox{MinLat: -100, MinLon: -60, MaxLat: -33, MaxLon: -59}.Valid())
}

func TestSnapshot_Find(t *testing.T) {
	snap := &Snapshot{Incidents: []MappedIncident{
		{IncidentRecord: IncidentRecord{ID: "a"}},
		{IncidentRecord: IncidentRecord{ID: "b"}},
	}}

	inc, ok := snap.Find("b")
	assert.True(t, ok)
	assert.Equal(t, "b", inc.ID)

	_, ok = snap.Find("z")
	assert.False(t, ok)

	var nilSnap *Snapshot
	_, ok = nilSnap.Find("a")
	assert.False(t, ok)
}

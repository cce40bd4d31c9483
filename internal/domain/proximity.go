package domain

import (
	"cmp"
	"math"
	"slices"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// HaversineMeters returns the great-circle distance between a and b.
// No ellipsoidal correction is applied; the error is negligible at city scale.
func HaversineMeters(a, b GeoPoint) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dlat := (b.Lat - a.Lat) * math.Pi / 180
	dlon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// NearbyInstallation is one proximity result.
type NearbyInstallation struct {
	Installation
	DistanceMeters float64 `json:"distance_meters"`
}

// ProximityIndex answers radius queries over the static installation dataset.
// Every query is a full linear scan.
type ProximityIndex struct {
	installations []Installation
}

// NewProximityIndex copies the dataset so later changes to the caller's slice
// cannot leak into the index.
func NewProximityIndex(installations []Installation) *ProximityIndex {
	return &ProximityIndex{installations: slices.Clone(installations)}
}

// Len returns the number of indexed installations.
func (p *ProximityIndex) Len() int { return len(p.installations) }

// All returns a copy of the indexed installations in dataset order.
func (p *ProximityIndex) All() []Installation { return slices.Clone(p.installations) }

// Nearby returns every installation within radiusMeters of center (inclusive),
// sorted by ascending distance. Ties keep dataset order.
func (p *ProximityIndex) Nearby(center GeoPoint, radiusMeters float64) []NearbyInstallation {
	if radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return nil
	}
	var out []NearbyInstallation
	for _, inst := range p.installations {
		d := HaversineMeters(center, inst.Point())
		if d <= radiusMeters {
			out = append(out, NearbyInstallation{Installation: inst, DistanceMeters: d})
		}
	}
	slices.SortStableFunc(out, func(a, b NearbyInstallation) int {
		return cmp.Compare(a.DistanceMeters, b.DistanceMeters)
	})
	return out
}

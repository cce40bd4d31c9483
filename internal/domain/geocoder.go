package domain

import "context"

// GeocodingResult contains the first candidate returned by a geocoding provider.
// A zero result (no FormattedAddress, zero coordinates) means no candidate matched.
type GeocodingResult struct {
	Lat              float64
	Lon              float64
	FormattedAddress string
	Confidence       float64 // provider importance score, 0.0–1.0
}

// Found reports whether the provider returned a candidate.
func (r GeocodingResult) Found() bool {
	return r.FormattedAddress != "" || r.Lat != 0 || r.Lon != 0
}

// Point returns the candidate coordinates.
func (r GeocodingResult) Point() GeoPoint {
	return GeoPoint{Lat: r.Lat, Lon: r.Lon}
}

// Geocoder resolves a free-text query to coordinates.
type Geocoder interface {
	// Geocode sends the query as-is; callers are responsible for normalization
	// and for appending the locality suffix.
	Geocode(ctx context.Context, query string) (GeocodingResult, error)
}

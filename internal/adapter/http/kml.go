package http

import (
	"fmt"
	"strings"

	kml "github.com/twpayne/go-kml"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

const kmlContentType = "application/vnd.google-earth.kml+xml"

// incidentsKML renders every located incident as a placemark. Incidents
// without a resolved point are left out.
func incidentsKML(snap *domain.Snapshot) *kml.CompoundElement {
	var placemarks []kml.Element
	for _, inc := range snap.Incidents {
		if inc.Point == nil {
			continue
		}
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(fmt.Sprintf("%s %s", inc.ID, inc.Category.DisplayName)),
			kml.Description(incidentDescription(inc)),
			kml.TimeStamp(kml.When(inc.OccurredAt)),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: inc.Point.Lon, Lat: inc.Point.Lat})),
		))
	}

	return kml.KML(kml.Document(
		append([]kml.Element{kml.Name("Incidentes")}, placemarks...)...,
	))
}

func incidentDescription(inc domain.MappedIncident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", inc.Type)
	fmt.Fprintf(&b, "%s\n", inc.Address)
	fmt.Fprintf(&b, "Estado: %s\n", inc.Status)
	fmt.Fprintf(&b, "Hora: %s", inc.OccurredAt.Format("02/01/2006 15:04"))
	if inc.Description != "" {
		fmt.Fprintf(&b, "\n%s", inc.Description)
	}
	return b.String()
}

// installationsKML renders the camera dataset.
func installationsKML(installations []domain.Installation) *kml.CompoundElement {
	placemarks := make([]kml.Element, 0, len(installations)+1)
	placemarks = append(placemarks, kml.Name("Cámaras"))
	for _, inst := range installations {
		placemarks = append(placemarks, kml.Placemark(
			kml.Name(inst.ID),
			kml.Description(fmt.Sprintf("%s (%s)", inst.Label, inst.Kind)),
			kml.Point(kml.Coordinates(kml.Coordinate{Lon: inst.Lon, Lat: inst.Lat})),
		))
	}
	return kml.KML(kml.Document(placemarks...))
}

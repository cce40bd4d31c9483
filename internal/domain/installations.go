package domain

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstallationKind is the one-letter installation class used by the dataset.
type InstallationKind string

const (
	KindB InstallationKind = "B"
	KindR InstallationKind = "R"
	KindP InstallationKind = "P"
	KindF InstallationKind = "F"
)

func (k InstallationKind) valid() bool {
	switch k {
	case KindB, KindR, KindP, KindF:
		return true
	default:
		return false
	}
}

// Installation is a fixed camera location. The dataset is read-only.
type Installation struct {
	ID    string           `json:"id" yaml:"id"`
	Label string           `json:"label" yaml:"label"`
	Lat   float64          `json:"lat" yaml:"lat"`
	Lon   float64          `json:"lon" yaml:"lon"`
	Kind  InstallationKind `json:"kind" yaml:"kind"`
}

// Point returns the installation's coordinates.
func (i Installation) Point() GeoPoint { return GeoPoint{Lat: i.Lat, Lon: i.Lon} }

//go:embed installations.yaml
var defaultInstallationsYAML []byte

type installationDocument struct {
	Version       string         `yaml:"version"`
	Installations []Installation `yaml:"installations"`
}

// LoadInstallations reads the dataset from path, or the embedded one when path
// is empty, and checks every entry against bounds.
func LoadInstallations(path string, bounds BoundingBox) ([]Installation, error) {
	data := defaultInstallationsYAML
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read installations: %w", err)
		}
	}
	return ParseInstallations(data, bounds)
}

// ParseInstallations decodes a YAML installation document.
func ParseInstallations(data []byte, bounds BoundingBox) ([]Installation, error) {
	var doc installationDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode installations: %w", err)
	}

	seen := make(map[string]bool, len(doc.Installations))
	for i, inst := range doc.Installations {
		if inst.ID == "" {
			return nil, fmt.Errorf("installation %d: missing id", i)
		}
		if seen[inst.ID] {
			return nil, fmt.Errorf("installation %s: duplicate id", inst.ID)
		}
		if !inst.Kind.valid() {
			return nil, fmt.Errorf("installation %s: unknown kind %q", inst.ID, inst.Kind)
		}
		if !bounds.Contains(inst.Point()) {
			return nil, fmt.Errorf("installation %s: outside bounding box", inst.ID)
		}
		seen[inst.ID] = true
	}
	return doc.Installations, nil
}

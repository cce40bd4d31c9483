// Package domain models the municipal incident listing, its category taxonomy,
// and the fixed camera installations shown alongside it on the map.
//
// # Data Source
//
// Incidents come from the city's public "incidentes en curso" page: an HTML
// table, one row per incident, read by column position:
//
//	[0] status marker   [1] dd/mm/yyyy HH:MM   [2] type   [3] id
//	[4] operator        [5] description        [6] address
//
// The page has no status column. An in-progress incident carries an icon in
// the first cell and a closed one leaves it empty, so status is inferred from
// markup. Upstream template changes break this silently; see the feed adapter.
//
// # Address conventions
//
// Dispatchers type addresses in two styles:
//
//	"SAN MARTIN 1200 (ESQ. CORDOBA)"   intersection in a parenthetical
//	"PELLEGRINI/MORENO, 1450"          slash-separated, house number suffix
//
// and sometimes append a reference code ("LPR 12"). [NormalizeAddress] folds
// both styles into "A & B" and removes the noise. The locality suffix is added
// by the geocode queue, not here.
//
// # Classification
//
// Incident types are free text ("ROBO A TRANSEUNTE", "Riña en vía pública").
// [Classifier] lowercases, strips accents and returns the first category, in
// declared order, with a keyword contained in the text. Declaration order in
// taxonomy.yaml is therefore semantic: "robo con violencia" is theft, not
// violence, because theft is declared first.
//
// # Installations
//
// Cameras are a versioned static list (installations.yaml) with a one-letter
// kind code (B, R, P, F). [ProximityIndex] answers "which cameras are within
// r meters of this incident" with a haversine linear scan.
package domain

package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/incident-feed-sync/internal/domain"
)

// classifyRecords returns a copy of records with categories assigned. The
// input slice and its elements are left untouched.
func classifyRecords(c Classifier, records []domain.IncidentRecord, logger *slog.Logger) []domain.IncidentRecord {
	out := make([]domain.IncidentRecord, len(records))
	for i, r := range records {
		category := c.Classify(r.Type)
		if category.ID == domain.OtherCategoryID && r.Type != "" {
			logger.Debug("unclassified incident type", "type", r.Type, "id", r.ID)
		}
		out[i] = r.WithCategory(category)
	}
	return out
}

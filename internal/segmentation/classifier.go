// internal/segmentation/classifier.go
package segmentation

import (
	"time"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// Classifier buckets contacts by days since registration. Boundaries
// are inclusive of the lower edge: >180d CRITICAL, >90d HIGH, >30d
// MEDIUM, otherwise LOW.
type Classifier struct {
	criticalAfterDays int
	highAfterDays     int
	mediumAfterDays   int
	logger            logger.Logger
}

func NewClassifier(log logger.Logger) *Classifier {
	return &Classifier{
		criticalAfterDays: 180,
		highAfterDays:     90,
		mediumAfterDays:   30,
		logger:            log,
	}
}

// Classify is total and deterministic. Contacts with a missing or
// future registration date fall back to LOW rather than erroring.
func (c *Classifier) Classify(contact *models.Contact, now time.Time) models.Segment {
	days := contact.DaysSinceRegistration(now)
	if days < 0 {
		c.logger.Warn("Contact has malformed registration date, assigning LOW", map[string]interface{}{
			"contactId": contact.ID,
		})
		return models.SegmentLow
	}

	switch {
	case days > c.criticalAfterDays:
		return models.SegmentCritical
	case days > c.highAfterDays:
		return models.SegmentHigh
	case days > c.mediumAfterDays:
		return models.SegmentMedium
	default:
		return models.SegmentLow
	}
}

// ClassifyAll assigns a segment to every contact in place and returns
// the contacts grouped by segment, preserving input order within each
// group.
func (c *Classifier) ClassifyAll(contacts []*models.Contact, now time.Time) map[models.Segment][]*models.Contact {
	out := make(map[models.Segment][]*models.Contact, len(models.SegmentOrder))
	for _, contact := range contacts {
		seg := c.Classify(contact, now)
		contact.Segment = seg
		out[seg] = append(out[seg], contact)
	}
	return out
}

// Distribution reports segment sizes for a classified batch.
func Distribution(grouped map[models.Segment][]*models.Contact) map[models.Segment]int {
	dist := make(map[models.Segment]int, len(grouped))
	for seg, members := range grouped {
		dist[seg] = len(members)
	}
	return dist
}

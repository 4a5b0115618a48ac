// internal/segmentation/classifier_test.go
package segmentation

import (
	"fmt"
	"testing"
	"time"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"

	"github.com/stretchr/testify/assert"
)

func testContact(id string, registeredDaysAgo int, now time.Time) *models.Contact {
	return &models.Contact{
		ID:           id,
		Name:         "Contact " + id,
		RegisteredAt: now.AddDate(0, 0, -registeredDaysAgo),
		ConsentState: models.ConsentGranted,
	}
}

func TestClassifier_Boundaries(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(logger.NewTestLogger(t))

	tests := []struct {
		name     string
		daysAgo  int
		expected models.Segment
	}{
		{"registered yesterday", 1, models.SegmentLow},
		{"exactly 30 days", 30, models.SegmentLow},
		{"31 days", 31, models.SegmentMedium},
		{"exactly 90 days", 90, models.SegmentMedium},
		{"91 days", 91, models.SegmentHigh},
		{"exactly 180 days", 180, models.SegmentHigh},
		{"181 days", 181, models.SegmentCritical},
		{"two years", 730, models.SegmentCritical},
		{"registered today", 0, models.SegmentLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact := testContact("c-1", tt.daysAgo, now)
			assert.Equal(t, tt.expected, c.Classify(contact, now))
		})
	}
}

func TestClassifier_MalformedDates(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(logger.NewTestLogger(t))

	t.Run("zero registration date falls back to LOW", func(t *testing.T) {
		contact := &models.Contact{ID: "c-zero"}
		assert.Equal(t, models.SegmentLow, c.Classify(contact, now))
	})

	t.Run("future registration date falls back to LOW", func(t *testing.T) {
		contact := &models.Contact{ID: "c-future", RegisteredAt: now.AddDate(0, 0, 5)}
		assert.Equal(t, models.SegmentLow, c.Classify(contact, now))
	})
}

func TestClassifier_Deterministic(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(logger.NewNoOpLogger())
	contact := testContact("c-1", 200, now)

	first := c.Classify(contact, now)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, c.Classify(contact, now))
	}
}

func TestClassifier_ClassifyAll(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(logger.NewTestLogger(t))

	// 650 contacts shaped like the reactivation base: 250 critical,
	// 200 high, 160 medium, 40 low.
	var contacts []*models.Contact
	add := func(n, daysAgo int) {
		for i := 0; i < n; i++ {
			contacts = append(contacts, testContact(fmt.Sprintf("c-%d-%d", daysAgo, i), daysAgo, now))
		}
	}
	add(250, 200)
	add(200, 120)
	add(160, 45)
	add(40, 10)

	grouped := c.ClassifyAll(contacts, now)
	dist := Distribution(grouped)

	assert.Equal(t, 250, dist[models.SegmentCritical])
	assert.Equal(t, 200, dist[models.SegmentHigh])
	assert.Equal(t, 160, dist[models.SegmentMedium])
	assert.Equal(t, 40, dist[models.SegmentLow])

	// Every contact got its segment written back.
	for _, contact := range contacts {
		assert.NotEmpty(t, contact.Segment)
	}

	// Totality: every contact landed in exactly one bucket.
	total := 0
	for _, n := range dist {
		total += n
	}
	assert.Equal(t, len(contacts), total)
}

func TestClassifier_OrderPreservedWithinSegment(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewClassifier(logger.NewNoOpLogger())

	contacts := []*models.Contact{
		testContact("first", 200, now),
		testContact("second", 210, now),
		testContact("third", 220, now),
	}

	grouped := c.ClassifyAll(contacts, now)
	critical := grouped[models.SegmentCritical]
	assert.Len(t, critical, 3)
	assert.Equal(t, "first", critical[0].ID)
	assert.Equal(t, "second", critical[1].ID)
	assert.Equal(t, "third", critical[2].ID)
}

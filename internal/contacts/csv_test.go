// internal/contacts/csv_test.go
package contacts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

const sampleCSV = `id,name,registered_at,consent_state,last_response_at,converted_at
c-1,Ana,2025-06-01,GRANTED,2026-02-01,
c-2,Bruno,2025-01-15T10:30:00Z,UNKNOWN,,
c-3,Carla,not-a-date,OPTED_OUT,,
c-4,,2024-12-01,granted,,2026-01-20
,missing id,2024-12-01,GRANTED,,
c-5,Edu,01/03/2025,DENIED,,
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	return path
}

func TestCSVSource_LoadContacts(t *testing.T) {
	source := NewCSVSource(writeSample(t), logger.NewTestLogger(t))

	contacts, err := source.LoadContacts(context.Background(), Criteria{})
	require.NoError(t, err)
	require.Len(t, contacts, 5, "row without id is skipped, everything else loads")

	byID := make(map[string]*models.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}

	ana := byID["c-1"]
	require.NotNil(t, ana)
	assert.Equal(t, "Ana", ana.Name)
	assert.Equal(t, models.ConsentGranted, ana.ConsentState)
	assert.Equal(t, 2025, ana.RegisteredAt.Year())
	assert.False(t, ana.LastResponseAt.IsZero())

	// RFC 3339 timestamps parse too.
	assert.Equal(t, 15, byID["c-2"].RegisteredAt.Day())

	// Malformed dates load with a zero time for the classifier fallback.
	carla := byID["c-3"]
	require.NotNil(t, carla)
	assert.True(t, carla.RegisteredAt.IsZero())
	assert.Equal(t, models.ConsentOptedOut, carla.ConsentState)

	// Consent values are case-insensitive; converted_at round-trips.
	assert.Equal(t, models.ConsentGranted, byID["c-4"].ConsentState)
	assert.True(t, byID["c-4"].Converted())

	// Brazilian day-first dates are accepted.
	assert.Equal(t, 1, byID["c-5"].RegisteredAt.Day())
	assert.Equal(t, models.ConsentDenied, byID["c-5"].ConsentState)
}

func TestCSVSource_CriteriaFilters(t *testing.T) {
	source := NewCSVSource(writeSample(t), logger.NewTestLogger(t))

	contacts, err := source.LoadContacts(context.Background(), Criteria{ExcludeOptOut: true})
	require.NoError(t, err)
	for _, c := range contacts {
		assert.NotEqual(t, models.ConsentOptedOut, c.ConsentState)
	}

	limited, err := source.LoadContacts(context.Background(), Criteria{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCSVSource_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer server.Close()

	source := NewCSVSource(server.URL, logger.NewTestLogger(t))
	contacts, err := source.LoadContacts(context.Background(), Criteria{})
	require.NoError(t, err)
	assert.Len(t, contacts, 5)
}

func TestCSVSource_MissingFile(t *testing.T) {
	source := NewCSVSource("/nonexistent/contacts.csv", logger.NewTestLogger(t))
	_, err := source.LoadContacts(context.Background(), Criteria{})
	require.Error(t, err)
}

func TestCSVSource_MissingIDColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,phone\nAna,123\n"), 0o644))

	source := NewCSVSource(path, logger.NewTestLogger(t))
	_, err := source.LoadContacts(context.Background(), Criteria{})
	require.Error(t, err)
}

func TestStaticSource(t *testing.T) {
	source := NewStaticSource(
		&models.Contact{ID: "c-1", ConsentState: models.ConsentGranted},
		&models.Contact{ID: "c-2", ConsentState: models.ConsentOptedOut},
	)

	all, err := source.LoadContacts(context.Background(), Criteria{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	granted, err := source.LoadContacts(context.Background(), Criteria{ExcludeOptOut: true})
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, "c-1", granted[0].ID)
}

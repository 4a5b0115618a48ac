// internal/contacts/csv.go
package contacts

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"outreach-engine/internal/common/errors"
	httpclient "outreach-engine/internal/common/http"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// CSVSource reads contacts from a spreadsheet export, either a local
// file or a published CSV URL. Expected header:
//
//	id,name,registered_at,consent_state,last_response_at,converted_at
//
// registered_at accepts RFC 3339 or plain dates; an unparseable value
// loads the contact with a zero time so the classifier's fallback
// applies instead of dropping the row.
type CSVSource struct {
	path   string
	client *httpclient.Client
	logger logger.Logger
}

func NewCSVSource(path string, log logger.Logger) *CSVSource {
	return &CSVSource{
		path:   path,
		client: httpclient.NewClient(30 * time.Second),
		logger: log,
	}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) LoadContacts(ctx context.Context, criteria Criteria) ([]*models.Contact, error) {
	reader, closer, err := s.open(ctx)
	if err != nil {
		return nil, errors.NewContactSourceFailedError(s.Name(), err)
	}
	defer closer()

	records := csv.NewReader(reader)
	records.FieldsPerRecord = -1

	header, err := records.Read()
	if err != nil {
		return nil, errors.NewContactSourceFailedError(s.Name(), err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["id"]; !ok {
		return nil, errors.NewContactMalformedError("csv header missing id column")
	}

	var out []*models.Contact
	skipped := 0
	for {
		row, err := records.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		contact := s.parseRow(row, columns)
		if contact == nil {
			skipped++
			continue
		}
		if criteria.ExcludeOptOut && contact.ConsentState == models.ConsentOptedOut {
			continue
		}
		out = append(out, contact)
		if criteria.Limit > 0 && len(out) >= criteria.Limit {
			break
		}
	}

	s.logger.Info("Contacts loaded from CSV", map[string]interface{}{
		"path":    s.path,
		"loaded":  len(out),
		"skipped": skipped,
	})
	return out, nil
}

func (s *CSVSource) open(ctx context.Context) (io.Reader, func(), error) {
	if strings.HasPrefix(s.path, "http://") || strings.HasPrefix(s.path, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.path, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return nil, nil, errors.NewContactSourceFailedError(s.Name(),
				errors.NewExternalServiceError("contact export", nil))
		}
		return resp.Body, func() { resp.Body.Close() }, nil
	}

	file, err := os.Open(s.path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

func (s *CSVSource) parseRow(row []string, columns map[string]int) *models.Contact {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	id := field("id")
	if id == "" {
		return nil
	}

	contact := &models.Contact{
		ID:             id,
		Name:           field("name"),
		RegisteredAt:   parseTime(field("registered_at")),
		LastResponseAt: parseTime(field("last_response_at")),
		ConvertedAt:    parseTime(field("converted_at")),
		ConsentState:   parseConsent(field("consent_state")),
	}
	return contact
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseConsent(value string) models.ConsentState {
	switch models.ConsentState(strings.ToUpper(value)) {
	case models.ConsentRequested:
		return models.ConsentRequested
	case models.ConsentGranted:
		return models.ConsentGranted
	case models.ConsentDenied:
		return models.ConsentDenied
	case models.ConsentOptedOut:
		return models.ConsentOptedOut
	default:
		return models.ConsentUnknown
	}
}

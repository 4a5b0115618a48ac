// internal/consent/gate_test.go
package consent

import (
	"context"
	"testing"
	"time"

	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/events"
	"outreach-engine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type mockStore struct {
	contacts map[string]*models.Contact
	saveErr  error
}

func newMockStore() *mockStore {
	return &mockStore{contacts: make(map[string]*models.Contact)}
}

func (m *mockStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	return m.contacts[id], nil
}

func (m *mockStore) SaveContact(ctx context.Context, contact *models.Contact) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.contacts[contact.ID] = contact
	return nil
}

type mockSender struct {
	sent    []string
	sendErr error
}

func (m *mockSender) Send(ctx context.Context, contactID, templateID, body string) (string, error) {
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, contactID)
	return "msg-" + contactID, nil
}

func newTestGate(t *testing.T) (*Gate, *mockStore, *mockSender, *events.Bus, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newMockStore()
	sender := &mockSender{}
	bus := events.NewBus(logger.NewNoOpLogger())

	gate := NewGate(store, sender, rdb, bus, GateConfig{
		MaxPerDay:         1,
		MaxPerWeek:        3,
		RetentionDays:     730,
		RequestTemplateID: "consent_request",
	}, logger.NewTestLogger(t))

	return gate, store, sender, bus, mr
}

func grantedContact(id string) *models.Contact {
	return &models.Contact{
		ID:           id,
		RegisteredAt: time.Now().AddDate(0, 0, -100),
		ConsentState: models.ConsentGranted,
	}
}

// ==========================
// State Machine Tests
// ==========================

func TestGate_RequestConsent(t *testing.T) {
	t.Run("unknown contact becomes requested", func(t *testing.T) {
		gate, store, sender, _, _ := newTestGate(t)
		contact := &models.Contact{ID: "c-1", ConsentState: models.ConsentUnknown}

		err := gate.RequestConsent(context.Background(), contact)
		require.NoError(t, err)
		assert.Equal(t, models.ConsentRequested, contact.ConsentState)
		assert.Equal(t, []string{"c-1"}, sender.sent)
		assert.Equal(t, models.ConsentRequested, store.contacts["c-1"].ConsentState)
	})

	t.Run("idempotent for already requested contact", func(t *testing.T) {
		gate, _, sender, _, _ := newTestGate(t)
		contact := &models.Contact{ID: "c-2", ConsentState: models.ConsentRequested}

		err := gate.RequestConsent(context.Background(), contact)
		require.NoError(t, err)
		assert.Empty(t, sender.sent)
		assert.Equal(t, models.ConsentRequested, contact.ConsentState)
	})

	t.Run("granted contact untouched", func(t *testing.T) {
		gate, _, sender, _, _ := newTestGate(t)
		contact := grantedContact("c-3")

		err := gate.RequestConsent(context.Background(), contact)
		require.NoError(t, err)
		assert.Empty(t, sender.sent)
		assert.Equal(t, models.ConsentGranted, contact.ConsentState)
	})
}

func TestGate_RecordResponse(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		expectedState models.ConsentState
		expectErr     bool
	}{
		{"plain yes", "YES", models.ConsentGranted, false},
		{"lowercase yes", "yes", models.ConsentGranted, false},
		{"padded yes", "  yes  ", models.ConsentGranted, false},
		{"portuguese sim", "sim", models.ConsentGranted, false},
		{"single letter s", "S", models.ConsentGranted, false},
		{"plain no", "NO", models.ConsentDenied, false},
		{"portuguese nao", "nao", models.ConsentDenied, false},
		{"accented nao", "não", models.ConsentDenied, false},
		{"unrelated text", "maybe later", "", true},
		{"empty text", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _, _, _, _ := newTestGate(t)
			contact := &models.Contact{ID: "c-1", ConsentState: models.ConsentRequested}

			err := gate.RecordResponse(context.Background(), contact, tt.text)
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				assert.Equal(t, models.ConsentRequested, contact.ConsentState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedState, contact.ConsentState)
		})
	}
}

func TestGate_OptOut(t *testing.T) {
	t.Run("opt out from granted publishes event", func(t *testing.T) {
		gate, _, _, bus, _ := newTestGate(t)

		var received []models.Event
		bus.Subscribe(models.EventOptOut, func(ctx context.Context, evt models.Event) {
			received = append(received, evt)
		})

		contact := grantedContact("c-1")
		err := gate.OptOut(context.Background(), contact, "user request")
		require.NoError(t, err)

		assert.Equal(t, models.ConsentOptedOut, contact.ConsentState)
		assert.Equal(t, "user request", contact.OptOutReason)
		require.Len(t, received, 1)
		assert.Equal(t, "c-1", received[0].ContactID)
	})

	t.Run("opt out is irreversible via responses", func(t *testing.T) {
		gate, _, _, _, _ := newTestGate(t)
		contact := grantedContact("c-2")
		require.NoError(t, gate.OptOut(context.Background(), contact, "stop"))

		// A later YES must not resurrect the contact: the response is
		// rejected outright and the state stays OPTED_OUT.
		err := gate.RecordResponse(context.Background(), contact, "YES")
		assert.ErrorIs(t, err, ErrInvalidResponse)
		assert.Equal(t, models.ConsentOptedOut, contact.ConsentState)

		decision, err := gate.CanSend(context.Background(), contact)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyOptedOut, decision.Reason)
	})

	t.Run("responses outside REQUESTED are rejected", func(t *testing.T) {
		gate, _, _, _, _ := newTestGate(t)
		for _, state := range []models.ConsentState{
			models.ConsentUnknown, models.ConsentGranted,
			models.ConsentDenied, models.ConsentOptedOut,
		} {
			contact := &models.Contact{ID: "c-3", ConsentState: state}
			err := gate.RecordResponse(context.Background(), contact, "sim")
			assert.ErrorIs(t, err, ErrInvalidResponse, string(state))
			assert.Equal(t, state, contact.ConsentState)
		}
	})
}

// ==========================
// CanSend Tests
// ==========================

func TestGate_CanSend(t *testing.T) {
	tests := []struct {
		name     string
		contact  *models.Contact
		allowed  bool
		expected DenyReason
	}{
		{
			name:    "granted contact allowed",
			contact: grantedContact("c-1"),
			allowed: true,
		},
		{
			name:     "unknown state blocked",
			contact:  &models.Contact{ID: "c-2", ConsentState: models.ConsentUnknown, RegisteredAt: time.Now().AddDate(0, 0, -10)},
			allowed:  false,
			expected: DenyNotGranted,
		},
		{
			name:     "requested state blocked",
			contact:  &models.Contact{ID: "c-3", ConsentState: models.ConsentRequested, RegisteredAt: time.Now().AddDate(0, 0, -10)},
			allowed:  false,
			expected: DenyNotGranted,
		},
		{
			name:     "denied state blocked",
			contact:  &models.Contact{ID: "c-4", ConsentState: models.ConsentDenied, RegisteredAt: time.Now().AddDate(0, 0, -10)},
			allowed:  false,
			expected: DenyNotGranted,
		},
		{
			name:     "opted out blocked",
			contact:  &models.Contact{ID: "c-5", ConsentState: models.ConsentOptedOut, RegisteredAt: time.Now().AddDate(0, 0, -10)},
			allowed:  false,
			expected: DenyOptedOut,
		},
		{
			name: "retention window expired",
			contact: &models.Contact{
				ID:           "c-6",
				ConsentState: models.ConsentGranted,
				RegisteredAt: time.Now().AddDate(-3, 0, 0),
			},
			allowed:  false,
			expected: DenyRetentionExpired,
		},
		{
			name: "recent response keeps old contact inside retention",
			contact: &models.Contact{
				ID:             "c-7",
				ConsentState:   models.ConsentGranted,
				RegisteredAt:   time.Now().AddDate(-3, 0, 0),
				LastResponseAt: time.Now().AddDate(0, 0, -30),
			},
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _, _, _, _ := newTestGate(t)
			decision, err := gate.CanSend(context.Background(), tt.contact)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.expected, decision.Reason)
			}
		})
	}
}

func TestGate_FrequencyCaps(t *testing.T) {
	reserve := func(t *testing.T, gate *Gate, contactID string) {
		t.Helper()
		decision, err := gate.ReserveSend(context.Background(), contactID)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	t.Run("daily cap blocks second send", func(t *testing.T) {
		gate, _, _, _, _ := newTestGate(t)
		ctx := context.Background()
		contact := grantedContact("c-1")

		decision, err := gate.CanSend(ctx, contact)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)

		reserve(t, gate, contact.ID)

		decision, err = gate.CanSend(ctx, contact)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyFrequencyCapped, decision.Reason)

		decision, err = gate.ReserveSend(ctx, contact.ID)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyFrequencyCapped, decision.Reason)
	})

	t.Run("cap resets after key expiry", func(t *testing.T) {
		gate, _, _, _, mr := newTestGate(t)
		ctx := context.Background()
		contact := grantedContact("c-2")

		reserve(t, gate, contact.ID)

		decision, err := gate.CanSend(ctx, contact)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		mr.FastForward(25 * time.Hour)

		decision, err = gate.CanSend(ctx, contact)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("weekly cap survives daily resets", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		bus := events.NewBus(logger.NewNoOpLogger())
		gate := NewGate(newMockStore(), &mockSender{}, rdb, bus, GateConfig{
			MaxPerDay:  5,
			MaxPerWeek: 2,
		}, logger.NewTestLogger(t))

		ctx := context.Background()
		contact := grantedContact("c-3")

		reserve(t, gate, contact.ID)
		reserve(t, gate, contact.ID)

		decision, err := gate.CanSend(ctx, contact)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyFrequencyCapped, decision.Reason)
	})

	t.Run("caps are per contact", func(t *testing.T) {
		gate, _, _, _, _ := newTestGate(t)
		ctx := context.Background()

		reserve(t, gate, "c-busy")

		decision, err := gate.CanSend(ctx, grantedContact("c-other"))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("blocked reservation does not consume the window", func(t *testing.T) {
		gate, _, _, _, mr := newTestGate(t)
		ctx := context.Background()

		reserve(t, gate, "c-4")

		// The rejected attempt rolls its increment back, so the day
		// counter still reflects exactly one reserved send.
		decision, err := gate.ReserveSend(ctx, "c-4")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyFrequencyCapped, decision.Reason)

		day, err := mr.Get("consent:freq:day:c-4")
		require.NoError(t, err)
		assert.Equal(t, "1", day)
	})

	t.Run("release frees the slot for a later send", func(t *testing.T) {
		gate, _, _, _, _ := newTestGate(t)
		ctx := context.Background()

		reserve(t, gate, "c-5")
		require.NoError(t, gate.ReleaseSend(ctx, "c-5"))

		reserve(t, gate, "c-5")
	})
}

// ==========================
// Redis Command Expectation Tests
// ==========================

func TestReserveSend_RedisCommands(t *testing.T) {
	rdb, redisMock := redismock.NewClientMock()
	bus := events.NewBus(logger.NewNoOpLogger())
	gate := NewGate(newMockStore(), &mockSender{}, rdb, bus, GateConfig{}, logger.NewTestLogger(t))

	// first reservation sets the expiry on both windows
	redisMock.ExpectIncr("consent:freq:day:c-1").SetVal(1)
	redisMock.ExpectExpire("consent:freq:day:c-1", 24*time.Hour).SetVal(true)
	redisMock.ExpectIncr("consent:freq:week:c-1").SetVal(1)
	redisMock.ExpectExpire("consent:freq:week:c-1", 7*24*time.Hour).SetVal(true)

	decision, err := gate.ReserveSend(context.Background(), "c-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// a reservation over the day cap rolls its increment back
	redisMock.ExpectIncr("consent:freq:day:c-1").SetVal(2)
	redisMock.ExpectDecr("consent:freq:day:c-1").SetVal(1)

	decision, err = gate.ReserveSend(context.Background(), "c-1")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyFrequencyCapped, decision.Reason)

	// releasing gives both windows back
	redisMock.ExpectDecr("consent:freq:day:c-1").SetVal(0)
	redisMock.ExpectDecr("consent:freq:week:c-1").SetVal(0)

	require.NoError(t, gate.ReleaseSend(context.Background(), "c-1"))

	assert.NoError(t, redisMock.ExpectationsWereMet())
}

// internal/abtest/engine_test.go
package abtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/models"
)

// ==========================================================================
// TEST HELPERS
// ==========================================================================

type recordedAssignment struct {
	TestID    string
	ContactID string
	Variant   string
}

type mockRecorder struct {
	assignments []recordedAssignment
	failWith    error
}

func (m *mockRecorder) RecordAssignment(ctx context.Context, testID, contactID, variant string) error {
	if m.failWith != nil {
		return m.failWith
	}
	m.assignments = append(m.assignments, recordedAssignment{testID, contactID, variant})
	return nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(nil, 48*time.Hour, logger.NewTestLogger(t))
}

func validTest(id string) *models.ABTest {
	return &models.ABTest{
		ID:      id,
		Segment: models.SegmentHigh,
		VariantA: models.Variant{
			Name:       "A",
			TemplateID: "tmpl-direct-offer",
			Weight:     0.5,
		},
		VariantB: models.Variant{
			Name:       "B",
			TemplateID: "tmpl-social-proof",
			Weight:     0.5,
		},
		Metric:        models.MetricConversion,
		Threshold:     0.05,
		MinSampleSize: 30,
	}
}

// ==========================================================================
// TEST CREATION AND VALIDATION
// ==========================================================================

func TestCreateTest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.ABTest)
		wantErr bool
	}{
		{
			name:    "valid test passes",
			mutate:  func(ab *models.ABTest) {},
			wantErr: false,
		},
		{
			name: "weights must sum to one",
			mutate: func(ab *models.ABTest) {
				ab.VariantA.Weight = 0.7
				ab.VariantB.Weight = 0.5
			},
			wantErr: true,
		},
		{
			name: "variant names other than A and B rejected",
			mutate: func(ab *models.ABTest) {
				ab.VariantA.Name = "control"
				ab.VariantB.Name = "treatment"
			},
			wantErr: true,
		},
		{
			name: "swapped variant names rejected",
			mutate: func(ab *models.ABTest) {
				ab.VariantA.Name = "B"
				ab.VariantB.Name = "A"
			},
			wantErr: true,
		},
		{
			name: "zero weight variant rejected",
			mutate: func(ab *models.ABTest) {
				ab.VariantA.Weight = 0
				ab.VariantB.Weight = 1.0
			},
			wantErr: true,
		},
		{
			name: "minimum sample size floor is 30",
			mutate: func(ab *models.ABTest) {
				ab.MinSampleSize = 10
			},
			wantErr: true,
		},
		{
			name: "threshold of zero rejected",
			mutate: func(ab *models.ABTest) {
				ab.Threshold = 0
			},
			wantErr: true,
		},
		{
			name: "threshold of one rejected",
			mutate: func(ab *models.ABTest) {
				ab.Threshold = 1.0
			},
			wantErr: true,
		},
		{
			name: "missing variant template rejected by schema",
			mutate: func(ab *models.ABTest) {
				ab.VariantB.TemplateID = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t)
			test := validTest("test-validation")
			tt.mutate(test)

			err := engine.CreateTest(test)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.TestActive, test.Status)
				assert.False(t, test.StartedAt.IsZero())
			}
		})
	}
}

func TestCreateTest_DuplicateRejected(t *testing.T) {
	engine := newTestEngine(t)

	require.NoError(t, engine.CreateTest(validTest("test-dup")))
	err := engine.CreateTest(validTest("test-dup"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
}

// ==========================================================================
// VARIANT ASSIGNMENT
// ==========================================================================

func TestAssignVariant_Deterministic(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTest(validTest("test-hash")))
	ctx := context.Background()

	first := make(map[string]string)
	for i := 0; i < 200; i++ {
		contactID := fmt.Sprintf("contact-%03d", i)
		variant, err := engine.AssignVariant(ctx, "test-hash", contactID)
		require.NoError(t, err)
		assert.Contains(t, []string{"A", "B"}, variant)
		first[contactID] = variant
	}

	// Same contact always gets the same variant on this engine.
	for contactID, want := range first {
		got, err := engine.AssignVariant(ctx, "test-hash", contactID)
		require.NoError(t, err)
		assert.Equal(t, want, got, "assignment drifted for %s", contactID)
	}

	// And on a freshly built engine with no carried state.
	rebuilt := newTestEngine(t)
	require.NoError(t, rebuilt.CreateTest(validTest("test-hash")))
	for contactID, want := range first {
		got, err := rebuilt.AssignVariant(ctx, "test-hash", contactID)
		require.NoError(t, err)
		assert.Equal(t, want, got, "assignment not stable across restart for %s", contactID)
	}

	// Both variants actually occur over a couple hundred contacts.
	counts := map[string]int{}
	for _, v := range first {
		counts[v]++
	}
	assert.Greater(t, counts["A"], 0)
	assert.Greater(t, counts["B"], 0)
}

func TestAssignVariant_HonorsWeights(t *testing.T) {
	engine := newTestEngine(t)
	skewed := validTest("test-weights")
	skewed.VariantA.Weight = 0.8
	skewed.VariantB.Weight = 0.2
	require.NoError(t, engine.CreateTest(skewed))
	ctx := context.Background()

	counts := map[string]int{}
	const n = 2000
	for i := 0; i < n; i++ {
		variant, err := engine.AssignVariant(ctx, "test-weights", fmt.Sprintf("contact-%04d", i))
		require.NoError(t, err)
		counts[variant]++
	}

	// The hash buckets the keyspace by weight, so an 80/20 test lands
	// near an 80/20 split over a few thousand contacts.
	fracA := float64(counts["A"]) / n
	assert.InDelta(t, 0.8, fracA, 0.03, "got %d A / %d B", counts["A"], counts["B"])

	// Sent events fold into the same bucket the assignment used.
	assigned, err := engine.AssignVariant(ctx, "test-weights", "contact-0000")
	require.NoError(t, err)
	_, err = engine.RecordEvent("test-weights", "contact-0000", models.EventMessageSent)
	require.NoError(t, err)
	test, ok := engine.ActiveTestForSegment(models.SegmentHigh)
	require.True(t, ok)
	recorded := test.VariantA.Tally
	if assigned == "B" {
		recorded = test.VariantB.Tally
	}
	assert.Equal(t, int64(1), recorded.Sent)
}

func TestAssignVariant_UnknownTest(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.AssignVariant(context.Background(), "no-such-test", "contact-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTestNotFound, errors.CodeOf(err))
}

func TestAssignVariant_RecorderFailureDoesNotChangeAssignment(t *testing.T) {
	ctx := context.Background()

	healthy := &mockRecorder{}
	engine := NewEngine(healthy, 48*time.Hour, logger.NewTestLogger(t))
	require.NoError(t, engine.CreateTest(validTest("test-audit")))

	want, err := engine.AssignVariant(ctx, "test-audit", "contact-42")
	require.NoError(t, err)
	require.Len(t, healthy.assignments, 1)
	assert.Equal(t, want, healthy.assignments[0].Variant)

	broken := &mockRecorder{failWith: fmt.Errorf("audit store down")}
	degraded := NewEngine(broken, 48*time.Hour, logger.NewTestLogger(t))
	require.NoError(t, degraded.CreateTest(validTest("test-audit")))

	got, err := degraded.AssignVariant(ctx, "test-audit", "contact-42")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// ==========================================================================
// SIGNIFICANCE EVALUATION
// ==========================================================================

func TestEvaluate_KnownProportions(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-eval")
	test.VariantA.Tally = models.VariantTally{Sent: 90, Converted: 14}
	test.VariantB.Tally = models.VariantTally{Sent: 45, Converted: 11}
	require.NoError(t, engine.CreateTest(test))

	eval, err := engine.Evaluate("test-eval")
	require.NoError(t, err)

	assert.InDelta(t, 0.1556, eval.P1, 0.0001)
	assert.InDelta(t, 0.2444, eval.P2, 0.0001)
	assert.InDelta(t, 1.2534, eval.ZScore, 0.001)
	assert.InDelta(t, 0.2100, eval.PValue, 0.005)

	// B leads on the raw proportion but the gap is not significant at
	// 0.05, so no winner may be declared from this state.
	assert.Equal(t, "B", eval.Leader)
	assert.False(t, eval.Significant)
}

func TestEvaluate_SampleSizeGate(t *testing.T) {
	engine := newTestEngine(t)

	// A huge effect on a tiny sample stays non-significant until both
	// variants clear the minimum sample size.
	test := validTest("test-sample-gate")
	test.VariantA.Tally = models.VariantTally{Sent: 29, Converted: 0}
	test.VariantB.Tally = models.VariantTally{Sent: 200, Converted: 120}
	require.NoError(t, engine.CreateTest(test))

	eval, err := engine.Evaluate("test-sample-gate")
	require.NoError(t, err)
	assert.Less(t, eval.PValue, 0.05)
	assert.False(t, eval.Significant, "under-sampled variant must suppress significance")
}

func TestEvaluate_ExactTieHasNoLeader(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-tie")
	test.VariantA.Tally = models.VariantTally{Sent: 100, Converted: 20}
	test.VariantB.Tally = models.VariantTally{Sent: 100, Converted: 20}
	require.NoError(t, engine.CreateTest(test))

	eval, err := engine.Evaluate("test-tie")
	require.NoError(t, err)
	assert.Empty(t, eval.Leader)
	assert.False(t, eval.Significant)
	assert.InDelta(t, 1.0, eval.PValue, 0.0001)
}

func TestEvaluate_EmptyTallies(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTest(validTest("test-empty")))

	eval, err := engine.Evaluate("test-empty")
	require.NoError(t, err)
	assert.Equal(t, 0.0, eval.P1)
	assert.Equal(t, 0.0, eval.P2)
	assert.Equal(t, 1.0, eval.PValue)
	assert.False(t, eval.Significant)
}

// ==========================================================================
// EVENT RECORDING
// ==========================================================================

func TestRecordEvent_IncrementsAssignedVariant(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.CreateTest(validTest("test-record")))
	ctx := context.Background()

	variant, err := engine.AssignVariant(ctx, "test-record", "contact-7")
	require.NoError(t, err)

	_, err = engine.RecordEvent("test-record", "contact-7", models.EventMessageSent)
	require.NoError(t, err)
	_, err = engine.RecordEvent("test-record", "contact-7", models.EventMessageDelivered)
	require.NoError(t, err)
	_, err = engine.RecordEvent("test-record", "contact-7", models.EventConversion)
	require.NoError(t, err)

	test, ok := engine.ActiveTestForSegment(models.SegmentHigh)
	require.True(t, ok)

	hit, other := test.VariantA.Tally, test.VariantB.Tally
	if variant == "B" {
		hit, other = other, hit
	}
	assert.Equal(t, models.VariantTally{Sent: 1, Delivered: 1, Converted: 1}, hit)
	assert.Equal(t, models.VariantTally{}, other)
}

func TestRecordEvent_UnknownTest(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.RecordEvent("no-such-test", "contact-1", models.EventMessageSent)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTestNotFound, errors.CodeOf(err))
}

func TestRecordEvent_CompletedTestFrozen(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-frozen")
	test.StartedAt = time.Now().Add(-72 * time.Hour)
	test.VariantA.Tally = models.VariantTally{Sent: 200, Converted: 20}
	test.VariantB.Tally = models.VariantTally{Sent: 200, Converted: 60}
	require.NoError(t, engine.CreateTest(test))

	done, err := engine.MaybeFinalize("test-frozen", time.Now())
	require.NoError(t, err)
	require.True(t, done)

	_, err = engine.RecordEvent("test-frozen", "contact-1", models.EventConversion)
	require.NoError(t, err)
	assert.Equal(t, int64(20), test.VariantA.Tally.Converted)
	assert.Equal(t, int64(60), test.VariantB.Tally.Converted)
}

// ==========================================================================
// FINALIZATION
// ==========================================================================

func TestMaybeFinalize_SignificantAfterMinDuration(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-final")
	test.StartedAt = time.Now().Add(-72 * time.Hour)
	test.VariantA.Tally = models.VariantTally{Sent: 200, Converted: 20}
	test.VariantB.Tally = models.VariantTally{Sent: 200, Converted: 60}
	require.NoError(t, engine.CreateTest(test))

	now := time.Now()
	done, err := engine.MaybeFinalize("test-final", now)
	require.NoError(t, err)
	require.True(t, done)

	assert.Equal(t, models.TestCompleted, test.Status)
	assert.Equal(t, "B", test.Winner)
	assert.Equal(t, now, test.CompletedAt)

	tmpl, ok := engine.SegmentDefault(models.SegmentHigh)
	require.True(t, ok)
	assert.Equal(t, "tmpl-social-proof", tmpl)

	// Second call is a no-op on a completed test.
	done, err = engine.MaybeFinalize("test-final", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMaybeFinalize_TooEarly(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-early")
	test.StartedAt = time.Now().Add(-12 * time.Hour)
	test.VariantA.Tally = models.VariantTally{Sent: 200, Converted: 20}
	test.VariantB.Tally = models.VariantTally{Sent: 200, Converted: 60}
	require.NoError(t, engine.CreateTest(test))

	done, err := engine.MaybeFinalize("test-early", time.Now())
	require.NoError(t, err)
	assert.False(t, done, "significant result must still wait the minimum duration")
	assert.Equal(t, models.TestActive, test.Status)
}

func TestMaybeFinalize_NotSignificant(t *testing.T) {
	engine := newTestEngine(t)

	test := validTest("test-insig")
	test.StartedAt = time.Now().Add(-96 * time.Hour)
	test.VariantA.Tally = models.VariantTally{Sent: 90, Converted: 14}
	test.VariantB.Tally = models.VariantTally{Sent: 45, Converted: 11}
	require.NoError(t, engine.CreateTest(test))

	done, err := engine.MaybeFinalize("test-insig", time.Now())
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, models.TestActive, test.Status)
	assert.Empty(t, test.Winner)

	_, ok := engine.SegmentDefault(models.SegmentHigh)
	assert.False(t, ok)
}

// ==========================================================================
// SEGMENT LOOKUP
// ==========================================================================

func TestActiveTestForSegment(t *testing.T) {
	engine := newTestEngine(t)

	high := validTest("test-high")
	require.NoError(t, engine.CreateTest(high))

	low := validTest("test-low")
	low.Segment = models.SegmentLow
	require.NoError(t, engine.CreateTest(low))

	got, ok := engine.ActiveTestForSegment(models.SegmentHigh)
	require.True(t, ok)
	assert.Equal(t, "test-high", got.ID)

	_, ok = engine.ActiveTestForSegment(models.SegmentCritical)
	assert.False(t, ok)
}

// ==========================================================================
// Z-TEST PRIMITIVE
// ==========================================================================

func TestTwoProportionZTest_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name                   string
		s1, n1, s2, n2         int64
		wantZ, wantP           float64
	}{
		{"both empty", 0, 0, 0, 0, 0, 1},
		{"one side empty", 5, 50, 0, 0, 0, 1},
		{"zero variance all failures", 0, 40, 0, 40, 0, 1},
		{"zero variance all successes", 40, 40, 40, 40, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, p := TwoProportionZTest(tt.s1, tt.n1, tt.s2, tt.n2)
			assert.Equal(t, tt.wantZ, z)
			assert.Equal(t, tt.wantP, p)
		})
	}
}

func BenchmarkAssignVariant(b *testing.B) {
	engine := NewEngine(nil, 48*time.Hour, logger.NewNoOpLogger())
	if err := engine.CreateTest(validTest("bench")); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = engine.AssignVariant(ctx, "bench", fmt.Sprintf("contact-%d", i))
	}
}

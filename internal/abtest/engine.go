// internal/abtest/engine.go
package abtest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
	"outreach-engine/internal/common/validation"
	"outreach-engine/internal/models"
)

// AssignmentRecorder persists variant assignments for auditability.
// Correctness never depends on it; assignment is recomputable from the
// hash. May be nil.
type AssignmentRecorder interface {
	RecordAssignment(ctx context.Context, testID, contactID, variant string) error
}

// Evaluation is the outcome of a significance recomputation.
type Evaluation struct {
	P1          float64 `json:"p1"`
	P2          float64 `json:"p2"`
	ZScore      float64 `json:"zScore"`
	PValue      float64 `json:"pValue"`
	Significant bool    `json:"significant"`
	// Leader is the variant currently ahead on the target metric,
	// regardless of significance. Empty on an exact tie.
	Leader string `json:"leader,omitempty"`
}

// Engine owns A/B test state: deterministic variant assignment, tally
// accounting, and online significance evaluation. Tallies are the only
// mutable shared state and sit behind one mutex.
type Engine struct {
	mu       sync.Mutex
	tests    map[string]*models.ABTest
	defaults map[models.Segment]string

	recorder    AssignmentRecorder
	logger      logger.Logger
	minDuration time.Duration
}

func NewEngine(recorder AssignmentRecorder, minDuration time.Duration, log logger.Logger) *Engine {
	if minDuration == 0 {
		minDuration = 48 * time.Hour
	}
	return &Engine{
		tests:       make(map[string]*models.ABTest),
		defaults:    make(map[models.Segment]string),
		recorder:    recorder,
		logger:      log,
		minDuration: minDuration,
	}
}

// CreateTest validates and registers a test. Weights must sum to 1.0
// and the minimum sample size floor is 30. Validation failures
// propagate synchronously to the caller.
func (e *Engine) CreateTest(test *models.ABTest) error {
	doc, err := json.Marshal(test)
	if err != nil {
		return errors.NewValidationFailedError(err.Error())
	}
	result, err := validation.ValidateJSON(validation.ABTestSchema, string(doc))
	if err != nil {
		return errors.NewValidationFailedError(err.Error())
	}
	if !result.Valid {
		return errors.NewValidationFailedError(strings.Join(result.GetErrorMessages(), "; "))
	}

	// Variant names are the hash bucket labels; template resolution
	// keys off them, so anything else would desync assignment from
	// the template a contact receives.
	if test.VariantA.Name != "A" || test.VariantB.Name != "B" {
		return errors.NewValidationFailedError(
			fmt.Sprintf("variant names must be \"A\" and \"B\", got %q and %q", test.VariantA.Name, test.VariantB.Name))
	}
	if math.Abs(test.VariantA.Weight+test.VariantB.Weight-1.0) > 1e-9 {
		return errors.NewValidationFailedError(
			fmt.Sprintf("variant weights must sum to 1.0, got %.4f", test.VariantA.Weight+test.VariantB.Weight))
	}
	if test.VariantA.Weight <= 0 || test.VariantB.Weight <= 0 {
		return errors.NewValidationFailedError("variant weights must both be positive")
	}
	if test.MinSampleSize < 30 {
		return errors.NewValidationFailedError(
			fmt.Sprintf("minSampleSize must be at least 30, got %d", test.MinSampleSize))
	}
	if test.Threshold <= 0 || test.Threshold >= 1 {
		return errors.NewValidationFailedError(
			fmt.Sprintf("significance threshold must be within (0, 1), got %.4f", test.Threshold))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tests[test.ID]; exists {
		return errors.NewValidationFailedError("test already exists: " + test.ID)
	}

	test.Status = models.TestActive
	if test.StartedAt.IsZero() {
		test.StartedAt = time.Now().UTC()
	}
	e.tests[test.ID] = test

	e.logger.Info("A/B test created", map[string]interface{}{
		"testId":  test.ID,
		"segment": string(test.Segment),
		"metric":  string(test.Metric),
	})
	return nil
}

// AssignVariant maps (testID, contactID) to "A" or "B" with an FNV-1a
// hash bucketed by the variant weights. Stable across restarts with no
// persisted lookup.
func (e *Engine) AssignVariant(ctx context.Context, testID, contactID string) (string, error) {
	e.mu.Lock()
	test, ok := e.tests[testID]
	var weightA float64
	if ok {
		weightA = test.VariantA.Weight
	}
	e.mu.Unlock()
	if !ok {
		return "", errors.NewTestNotFoundError(testID)
	}

	variant := hashVariant(testID, contactID, weightA)

	if e.recorder != nil {
		if err := e.recorder.RecordAssignment(ctx, testID, contactID, variant); err != nil {
			// Audit write failures never change the assignment.
			e.logger.Warn("Variant assignment audit write failed", map[string]interface{}{
				"testId":    testID,
				"contactId": contactID,
				"error":     err.Error(),
			})
		}
	}

	return variant, nil
}

// hashVariant buckets the hash into [0,1) and assigns variant A to the
// fraction of the keyspace matching its weight. A 0.5/0.5 test splits
// evenly; a 0.8/0.2 test sends ~80% of contacts to A.
func hashVariant(testID, contactID string, weightA float64) string {
	h := fnv.New64a()
	h.Write([]byte(testID))
	h.Write([]byte{':'})
	h.Write([]byte(contactID))
	frac := float64(h.Sum64()>>11) / float64(uint64(1)<<53)
	if frac < weightA {
		return "A"
	}
	return "B"
}

// RecordEvent increments the contact's assigned variant tally and
// recomputes significance.
func (e *Engine) RecordEvent(testID, contactID string, event models.EventType) (Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	test, ok := e.tests[testID]
	if !ok {
		return Evaluation{}, errors.NewTestNotFoundError(testID)
	}
	if test.Status != models.TestActive {
		return e.evaluateLocked(test), nil
	}

	tally := &test.VariantA.Tally
	if hashVariant(testID, contactID, test.VariantA.Weight) == "B" {
		tally = &test.VariantB.Tally
	}

	switch event {
	case models.EventMessageSent:
		tally.Sent++
	case models.EventMessageDelivered:
		tally.Delivered++
	case models.EventResponseReceived:
		tally.Responded++
	case models.EventConversion:
		tally.Converted++
	}

	return e.evaluateLocked(test), nil
}

// Evaluate recomputes significance without mutating tallies.
func (e *Engine) Evaluate(testID string) (Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	test, ok := e.tests[testID]
	if !ok {
		return Evaluation{}, errors.NewTestNotFoundError(testID)
	}
	return e.evaluateLocked(test), nil
}

func (e *Engine) evaluateLocked(test *models.ABTest) Evaluation {
	sa, na := test.VariantA.Tally.Metric(test.Metric)
	sb, nb := test.VariantB.Tally.Metric(test.Metric)

	z, p := TwoProportionZTest(sa, na, sb, nb)

	eval := Evaluation{ZScore: z, PValue: p}
	if na > 0 {
		eval.P1 = float64(sa) / float64(na)
	}
	if nb > 0 {
		eval.P2 = float64(sb) / float64(nb)
	}

	bothSampled := test.VariantA.Tally.Sent >= int64(test.MinSampleSize) &&
		test.VariantB.Tally.Sent >= int64(test.MinSampleSize)
	eval.Significant = bothSampled && p < test.Threshold

	switch {
	case eval.P2 > eval.P1:
		eval.Leader = test.VariantB.Name
	case eval.P1 > eval.P2:
		eval.Leader = test.VariantA.Name
	}

	test.PValue = eval.PValue
	return eval
}

// MaybeFinalize completes a test that is significant and has run at
// least the minimum duration. Returns true when the test transitioned
// to COMPLETED on this call. Ties complete with no winner and no
// default change.
func (e *Engine) MaybeFinalize(testID string, now time.Time) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	test, ok := e.tests[testID]
	if !ok {
		return false, errors.NewTestNotFoundError(testID)
	}
	if test.Status != models.TestActive {
		return false, nil
	}

	eval := e.evaluateLocked(test)
	if !eval.Significant || now.Sub(test.StartedAt) < e.minDuration {
		return false, nil
	}

	test.Status = models.TestCompleted
	test.CompletedAt = now

	if eval.Leader == "" {
		e.logger.Info("A/B test completed with exact tie", map[string]interface{}{
			"testId": test.ID,
		})
		return true, nil
	}

	test.Winner = eval.Leader
	winnerTemplate := test.VariantA.TemplateID
	if eval.Leader == test.VariantB.Name {
		winnerTemplate = test.VariantB.TemplateID
	}
	e.defaults[test.Segment] = winnerTemplate

	e.logger.Info("A/B test finalized", map[string]interface{}{
		"testId":  test.ID,
		"winner":  test.Winner,
		"pValue":  eval.PValue,
		"segment": string(test.Segment),
	})
	return true, nil
}

// SegmentDefault returns the winning template registered for a
// segment, if any test concluded for it.
func (e *Engine) SegmentDefault(segment models.Segment) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tmpl, ok := e.defaults[segment]
	return tmpl, ok
}

// ActiveTestForSegment returns the running test scoped to a segment.
func (e *Engine) ActiveTestForSegment(segment models.Segment) (*models.ABTest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, test := range e.tests {
		if test.Segment == segment && test.Status == models.TestActive {
			return test, true
		}
	}
	return nil, false
}

// internal/models/abtest.go
package models

import "time"

type TestStatus string

const (
	TestActive    TestStatus = "ACTIVE"
	TestCompleted TestStatus = "COMPLETED"
)

// TargetMetric selects which proportion the significance test compares.
type TargetMetric string

const (
	MetricDelivery   TargetMetric = "delivery_rate"
	MetricResponse   TargetMetric = "response_rate"
	MetricConversion TargetMetric = "conversion_rate"
)

// VariantTally is the running counter set for one variant. Guarded by
// the engine's mutex; never mutated outside it.
type VariantTally struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Responded int64 `json:"responded"`
	Converted int64 `json:"converted"`
}

// Metric returns successes/trials for the given target metric.
func (v VariantTally) Metric(m TargetMetric) (successes, trials int64) {
	switch m {
	case MetricDelivery:
		return v.Delivered, v.Sent
	case MetricResponse:
		return v.Responded, v.Sent
	case MetricConversion:
		return v.Converted, v.Sent
	default:
		return 0, 0
	}
}

type Variant struct {
	Name       string       `json:"name"` // "A" or "B"
	TemplateID string       `json:"templateId"`
	Weight     float64      `json:"weight"`
	Tally      VariantTally `json:"tally"`
}

type ABTest struct {
	ID            string       `json:"id"`
	Segment       Segment      `json:"segment"`
	VariantA      Variant      `json:"variantA"`
	VariantB      Variant      `json:"variantB"`
	Metric        TargetMetric `json:"metric"`
	Threshold     float64      `json:"threshold"`     // p-value cutoff
	MinSampleSize int64        `json:"minSampleSize"` // per variant
	Status        TestStatus   `json:"status"`
	Winner        string       `json:"winner,omitempty"` // empty on tie or while active
	PValue        float64      `json:"pValue"`
	StartedAt     time.Time    `json:"startedAt"`
	CompletedAt   time.Time    `json:"completedAt,omitempty"`
}

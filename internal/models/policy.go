// internal/models/policy.go
package models

import "time"

// Segment is one of a fixed ordered set of priority buckets. Ordering
// matters: the dispatcher submits CRITICAL before HIGH before MEDIUM
// before LOW.
type Segment string

const (
	SegmentCritical Segment = "CRITICAL"
	SegmentHigh     Segment = "HIGH"
	SegmentMedium   Segment = "MEDIUM"
	SegmentLow      Segment = "LOW"
)

// SegmentOrder lists segments in dispatch priority order.
var SegmentOrder = []Segment{SegmentCritical, SegmentHigh, SegmentMedium, SegmentLow}

// Rank returns the dispatch priority of the segment, lower is more
// urgent. Unknown segments sort last.
func (s Segment) Rank() int {
	for i, seg := range SegmentOrder {
		if seg == s {
			return i
		}
	}
	return len(SegmentOrder)
}

// SendWindow is a preferred daily send-time window in local hours.
type SendWindow struct {
	StartHour int `json:"startHour" mapstructure:"start_hour"`
	EndHour   int `json:"endHour" mapstructure:"end_hour"`
}

// SegmentPolicy is the static configuration attached to each segment.
// Immutable after load; no per-instance state lives here.
type SegmentPolicy struct {
	Segment          Segment    `json:"segment"`
	TargetConversion float64    `json:"targetConversion"`
	DiscountPercent  int        `json:"discountPercent"`
	DailyQuota       int        `json:"dailyQuota"`
	FollowUpOffsets  []int      `json:"followUpOffsets"` // day offsets from campaign entry
	SendWindow       SendWindow `json:"sendWindow"`
	StopOnResponse   bool       `json:"stopOnResponse"`
	MaxAttempts      int        `json:"maxAttempts"`
}

// DefaultPolicies is the single consistent policy table for the engine.
// CRITICAL and HIGH stop their sequences on any response so a human can
// take over; MEDIUM and LOW keep their shorter cadences running.
func DefaultPolicies() map[Segment]SegmentPolicy {
	return map[Segment]SegmentPolicy{
		SegmentCritical: {
			Segment:          SegmentCritical,
			TargetConversion: 0.15,
			DiscountPercent:  30,
			DailyQuota:       3,
			FollowUpOffsets:  []int{0, 3, 7, 14},
			SendWindow:       SendWindow{StartHour: 10, EndHour: 11},
			StopOnResponse:   true,
			MaxAttempts:      4,
		},
		SegmentHigh: {
			Segment:          SegmentHigh,
			TargetConversion: 0.25,
			DiscountPercent:  20,
			DailyQuota:       2,
			FollowUpOffsets:  []int{0, 4, 10},
			SendWindow:       SendWindow{StartHour: 9, EndHour: 11},
			StopOnResponse:   true,
			MaxAttempts:      3,
		},
		SegmentMedium: {
			Segment:          SegmentMedium,
			TargetConversion: 0.35,
			DiscountPercent:  10,
			DailyQuota:       1,
			FollowUpOffsets:  []int{0, 7},
			SendWindow:       SendWindow{StartHour: 14, EndHour: 16},
			StopOnResponse:   false,
			MaxAttempts:      2,
		},
		SegmentLow: {
			Segment:          SegmentLow,
			TargetConversion: 0.40,
			DiscountPercent:  5,
			DailyQuota:       1,
			FollowUpOffsets:  []int{0},
			SendWindow:       SendWindow{StartHour: 14, EndHour: 19},
			StopOnResponse:   false,
			MaxAttempts:      1,
		},
	}
}

// NextSendTime places a day offset inside the segment's preferred
// window: the due time is the window start on base+offset days.
func (p SegmentPolicy) NextSendTime(base time.Time, offsetDays int) time.Time {
	day := base.AddDate(0, 0, offsetDays)
	return time.Date(day.Year(), day.Month(), day.Day(), p.SendWindow.StartHour, 0, 0, 0, day.Location())
}

// internal/models/followup.go
package models

import "time"

type SequenceStatus string

const (
	SequenceActive    SequenceStatus = "ACTIVE"
	SequenceStopped   SequenceStatus = "STOPPED"
	SequenceCompleted SequenceStatus = "COMPLETED"
)

// StopReason records why a sequence halted early. The scheduler
// evaluates conditions in this declared order; first match wins.
type StopReason string

const (
	StopConversion     StopReason = "CONVERSION"
	StopOptOut         StopReason = "OPT_OUT"
	StopResponse       StopReason = "RESPONSE_RECEIVED"
	StopMaxAttempts    StopReason = "MAX_ATTEMPTS"
	StopLongInactivity StopReason = "LONG_INACTIVITY"
)

type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepCompleted StepStatus = "COMPLETED"
	StepCancelled StepStatus = "CANCELLED"
)

// StepOutcome distinguishes how a completed step ended. A consent block
// is a normal outcome, not an error.
type StepOutcome string

const (
	OutcomeSent        StepOutcome = "SENT"
	OutcomeLGPDBlocked StepOutcome = "LGPD_BLOCKED"
	OutcomeFailed      StepOutcome = "FAILED"
)

type FollowUpStep struct {
	Index     int         `json:"index"`
	DayOffset int         `json:"dayOffset"`
	StepType  string      `json:"stepType"` // e.g. "reminder", "offer", "final_call"
	Urgency   Segment     `json:"urgency"`
	DueAt     time.Time   `json:"dueAt"`
	Status    StepStatus  `json:"status"`
	Outcome   StepOutcome `json:"outcome,omitempty"`
	SentAt    time.Time   `json:"sentAt,omitempty"`
}

type FollowUpSequence struct {
	ID          string         `json:"id"`
	ContactID   string         `json:"contactId"`
	CampaignID  string         `json:"campaignId"`
	Segment     Segment        `json:"segment"`
	Steps       []FollowUpStep `json:"steps"`
	CurrentStep int            `json:"currentStep"`
	Status      SequenceStatus `json:"status"`
	StopReason  StopReason     `json:"stopReason,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Attempts    int            `json:"attempts"` // steps actually dispatched
}

// PendingSteps returns indexes of steps still awaiting execution.
func (s *FollowUpSequence) PendingSteps() []int {
	var out []int
	for i := range s.Steps {
		if s.Steps[i].Status == StepPending {
			out = append(out, i)
		}
	}
	return out
}

// internal/models/campaign.go
package models

import "time"

type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
)

// CampaignCounters are the per-campaign aggregate tallies. They are
// copied by value in snapshots; the owning component guards mutation.
type CampaignCounters struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Responded int64 `json:"responded"`
	Converted int64 `json:"converted"`
	Errored   int64 `json:"errored"`
	Deferred  int64 `json:"deferred"`
}

type Campaign struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Segments  []Segment        `json:"segments"`
	Status    CampaignStatus   `json:"status"`
	Counters  CampaignCounters `json:"counters"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// JobStatus is the lifecycle of one dispatch attempt.
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobSent     JobStatus = "SENT"
	JobDeferred JobStatus = "DEFERRED"
	JobFailed   JobStatus = "FAILED"
	JobBlocked  JobStatus = "BLOCKED" // consent gate refused; not a failure
)

// DispatchJob is one unit of work: one scheduled attempt to send one
// message to one contact. Transient; consumed exactly once.
type DispatchJob struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contactId"`
	CampaignID  string    `json:"campaignId"`
	Segment     Segment   `json:"segment"`
	TemplateID  string    `json:"templateId"`
	Variant     string    `json:"variant,omitempty"` // set when an A/B test covers the segment
	TestID      string    `json:"testId,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Attempts    int       `json:"attempts"`
	Status      JobStatus `json:"status"`
	LastError   string    `json:"lastError,omitempty"`
}

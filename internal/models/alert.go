// internal/models/alert.go
package models

import "time"

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type AlertType string

const (
	AlertHighErrorRate      AlertType = "HIGH_ERROR_RATE"
	AlertLowDeliveryRate    AlertType = "LOW_DELIVERY_RATE"
	AlertLowResponseRate    AlertType = "LOW_RESPONSE_RATE"
	AlertLowConversion      AlertType = "LOW_CONVERSION_RATE"
	AlertCeilingBreached    AlertType = "DISPATCH_CEILING_BREACHED"
	AlertGatewayUnreachable AlertType = "GATEWAY_UNREACHABLE"
	AlertCampaignPaused     AlertType = "CAMPAIGN_PAUSED"
	AlertCampaignResumed    AlertType = "CAMPAIGN_RESUMED"
	AlertCampaignComplete   AlertType = "CAMPAIGN_COMPLETE"
)

type Alert struct {
	ID         string        `json:"id"`
	CampaignID string        `json:"campaignId"`
	Type       AlertType     `json:"type"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Value      float64       `json:"value"`
	Threshold  float64       `json:"threshold"`
	CreatedAt  time.Time     `json:"createdAt"`
	Resolved   bool          `json:"resolved"`
	ResolvedAt time.Time     `json:"resolvedAt,omitempty"`
}

// MetricsSnapshot is a point-in-time aggregate view of a campaign.
// Rates are in [0,1]; a rate whose denominator is zero is reported as 0.
type MetricsSnapshot struct {
	CampaignID     string               `json:"campaignId"`
	TakenAt        time.Time            `json:"takenAt"`
	Counters       CampaignCounters     `json:"counters"`
	DeliveryRate   float64              `json:"deliveryRate"`
	ResponseRate   float64              `json:"responseRate"`
	ConversionRate float64              `json:"conversionRate"`
	ErrorRate      float64              `json:"errorRate"`
	BySegment      map[Segment]SegStats `json:"bySegment,omitempty"`
}

type SegStats struct {
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Responded int64 `json:"responded"`
	Converted int64 `json:"converted"`
}

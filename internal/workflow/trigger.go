// internal/workflow/trigger.go
package workflow

import (
	"context"
	"encoding/json"
	"time"

	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
)

// Message names published to the workflow engine.
const (
	MsgCampaignCompleted = "campaign_completed"
	MsgCampaignPaused    = "campaign_paused"
	MsgCriticalAlert     = "critical_alert"
	MsgTestConcluded     = "ab_test_concluded"
)

// Trigger publishes campaign lifecycle messages so downstream BPMN
// processes can react to engine state changes. A nil Trigger is safe to
// call; all publishes become no-ops.
type Trigger struct {
	client *Client
	logger logger.Logger
}

func NewTrigger(client *Client, log logger.Logger) *Trigger {
	return &Trigger{client: client, logger: log}
}

// Publish sends a message with the given correlation key and variables.
func (t *Trigger) Publish(ctx context.Context, messageName, correlationKey string, variables map[string]interface{}) error {
	if t == nil || t.client == nil {
		return nil
	}

	if variables == nil {
		variables = map[string]interface{}{}
	}
	variables["publishedAt"] = time.Now().UTC().Format(time.RFC3339)

	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return errors.NewWorkflowPublishFailedError(messageName, err)
	}

	_, err = t.client.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		cmd, err := t.client.GetClient().NewPublishMessageCommand().
			MessageName(messageName).
			CorrelationKey(correlationKey).
			VariablesFromString(string(varsJSON))
		if err != nil {
			return nil, err
		}
		return cmd.Send(ctx)
	}, "publish_"+messageName)
	if err != nil {
		t.logger.Error("Workflow message publish failed", map[string]interface{}{
			"messageName":    messageName,
			"correlationKey": correlationKey,
			"error":          err.Error(),
		})
		return errors.NewWorkflowPublishFailedError(messageName, err)
	}

	t.logger.Info("Workflow message published", map[string]interface{}{
		"messageName":    messageName,
		"correlationKey": correlationKey,
	})
	return nil
}

// CampaignCompleted announces that every sequence of a campaign reached
// a terminal state.
func (t *Trigger) CampaignCompleted(ctx context.Context, campaignID string, totals map[string]interface{}) error {
	return t.Publish(ctx, MsgCampaignCompleted, campaignID, totals)
}

// CampaignPaused announces a circuit-breaker pause.
func (t *Trigger) CampaignPaused(ctx context.Context, campaignID, reason string) error {
	return t.Publish(ctx, MsgCampaignPaused, campaignID, map[string]interface{}{
		"reason": reason,
	})
}

// CriticalAlert fans a CRITICAL monitor alert into the workflow engine.
func (t *Trigger) CriticalAlert(ctx context.Context, campaignID, alertType, message string) error {
	return t.Publish(ctx, MsgCriticalAlert, campaignID, map[string]interface{}{
		"alertType": alertType,
		"message":   message,
	})
}

// TestConcluded announces an A/B test decision.
func (t *Trigger) TestConcluded(ctx context.Context, testID, winner string, pValue float64) error {
	return t.Publish(ctx, MsgTestConcluded, testID, map[string]interface{}{
		"winner": winner,
		"pValue": pValue,
	})
}

// internal/gateway/sns.go
package gateway

import (
	"context"
	stderrors "errors"

	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"outreach-engine/internal/common/aws"
	"outreach-engine/internal/common/errors"
	"outreach-engine/internal/common/logger"
)

// SNSGateway delivers messages as SMS through AWS SNS. Message address
// is the E.164 phone number.
type SNSGateway struct {
	client   *aws.SNSClient
	senderID string
	logger   logger.Logger
}

func NewSNSGateway(client *aws.SNSClient, senderID string, log logger.Logger) *SNSGateway {
	return &SNSGateway{client: client, senderID: senderID, logger: log}
}

func (g *SNSGateway) Name() string { return "sns" }

func (g *SNSGateway) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	messageID, err := g.client.PublishSMS(ctx, msg.Address, msg.Body, g.senderID)
	if err != nil {
		var invalidParam *snstypes.InvalidParameterException
		if stderrors.As(err, &invalidParam) {
			// A malformed phone number never publishes; retrying the
			// same number cannot succeed.
			return "", errors.NewInvalidRecipientError(msg.ContactID)
		}
		return "", errors.NewMessageSendFailedError(msg.ContactID, err)
	}
	g.logger.Debug("Message sent via SNS", map[string]interface{}{
		"contactId": msg.ContactID,
		"messageId": messageID,
	})
	return messageID, nil
}

// OnIncoming is a no-op: SMS replies do not flow back through SNS in
// this deployment.
func (g *SNSGateway) OnIncoming(handler IncomingHandler) {}

// OnDelivered is a no-op: SNS delivery receipts are not consumed in
// this deployment.
func (g *SNSGateway) OnDelivered(handler DeliveredHandler) {}

// HealthCheck is a no-op: SNS exposes no ping surface and publish
// errors already flow through the send path.
func (g *SNSGateway) HealthCheck(ctx context.Context) error {
	return nil
}

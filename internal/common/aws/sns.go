// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

var ErrNotificationsDisabled = errors.New("NOTIFICATIONS_DISABLED")

// SNSService is the slice of the SNS API the notifier uses.
type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// ExportEvent announces a finished bulk export run.
type ExportEvent struct {
	RunID            string         `json:"runId"`
	Appointments     int            `json:"appointments"`
	Pages            int            `json:"pages"`
	Indexed          int            `json:"indexed"`
	AppointmentTypes int            `json:"appointmentTypes"`
	Locations        int            `json:"locations"`
	DateDistribution map[string]int `json:"dateDistribution,omitempty"`
	CompletedAt      string         `json:"completedAt"`
}

// SNSPublisher posts export events to a topic.
type SNSPublisher struct {
	client   SNSService
	topicARN string
}

func NewSNSPublisher(client SNSService, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// PublishExport sends event as JSON and returns the SNS message id.
func (p *SNSPublisher) PublishExport(ctx context.Context, event ExportEvent) (string, error) {
	if p == nil || p.client == nil || p.topicARN == "" {
		return "", ErrNotificationsDisabled
	}

	body, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode export event: %w", err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String("Practice export completed"),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String("bulk-export.completed")},
			"runId":     {DataType: aws.String("String"), StringValue: aws.String(event.RunID)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

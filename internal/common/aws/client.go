// internal/common/aws/client.go
package aws

import (
	"context"
	"fmt"

	"practice-insights/internal/common/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifiers holds the enabled channels. A nil field means the channel is off.
type Notifiers struct {
	SNS *SNSPublisher
	SES *SESMailer
}

// NewNotifiers loads the default AWS credential chain only when a channel is
// enabled.
func NewNotifiers(ctx context.Context, cfg config.NotificationConfig) (*Notifiers, error) {
	n := &Notifiers{}
	if !cfg.SNS.Enabled && !cfg.SES.Enabled {
		return n, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if cfg.SNS.Enabled {
		n.SNS = NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.SNS.TopicARN)
	}
	if cfg.SES.Enabled {
		n.SES = NewSESMailer(ses.NewFromConfig(awsCfg), cfg.SES.FromEmail)
	}
	return n, nil
}

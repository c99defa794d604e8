package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/nurturingai/leadnurture/internal/core/domain"
)

const maxSNSSubject = 100

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes sales handoffs to a topic, typically fanned out to
// SMS or on-call tooling.
type SNSNotifier struct {
	api      publishAPI
	topicARN string
}

func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	if strings.TrimSpace(topicARN) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "sns notifier", errors.New("topic arn is required"))
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSNotifier{api: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

func (n *SNSNotifier) NotifySales(ctx context.Context, notification domain.SalesNotification) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(snsSubject(notification.Subject)),
		Message:  aws.String(notification.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"thread_id": stringAttribute(notification.Thread.ID),
			"lead_id":   stringAttribute(notification.Thread.Lead.LeadID),
			"goal_type": stringAttribute(string(notification.Intent.GoalType)),
		},
	}
	if _, err := n.api.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish sns notification: %w", err)
	}
	return nil
}

func stringAttribute(v string) types.MessageAttributeValue {
	if v == "" {
		v = "unknown"
	}
	return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
}

// snsSubject keeps printable ASCII only; SNS rejects subjects with line
// breaks or over 100 characters.
func snsSubject(subject string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= 0x20 && r < 0x7f {
			return r
		}
		return -1
	}, subject)
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > maxSNSSubject {
		cleaned = strings.TrimSpace(cleaned[:maxSNSSubject])
	}
	if cleaned == "" {
		return "Lead Ready"
	}
	return cleaned
}

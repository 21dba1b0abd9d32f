// Package notifications delivers noteworthy gateway occurrences to an
// external channel. The SNS notifier publishes to one topic; the bridge
// subscribes to the event bus and forwards only the alert-worthy subset,
// so request-lifecycle chatter never leaves the process.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/modelgate/modelgate/internal/budget"
	"github.com/modelgate/modelgate/internal/events"
)

type Type string

const (
	TypeBudgetWarning   Type = "budget_warning"
	TypeBudgetCritical  Type = "budget_critical"
	TypeBudgetExceeded  Type = "budget_exceeded"
	TypeUsageWarning    Type = "usage_warning"
	TypeUsageExceeded   Type = "usage_exceeded"
	TypeProviderDown    Type = "provider_down"
	TypeAPIKeyExpired   Type = "api_key_expired"
	TypeAPIKeyNearLimit Type = "api_key_near_limit"
)

type Notification struct {
	Type     Type           `json:"type"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicARN string
}

func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSNotifierWithConfig(cfg, topicARN), nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	if notification.At.IsZero() {
		notification.At = time.Now().UTC()
	}

	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}
	if notification.UserID != "" {
		input.MessageAttributes["UserID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.UserID),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.Info("notification sent", "type", notification.Type, "user_id", notification.UserID)
	return nil
}

// InMemoryNotifier records notifications for tests and development.
type InMemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	if notification.At.IsZero() {
		notification.At = time.Now().UTC()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *InMemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// SubscribeBus forwards the alert-worthy subset of bus events to the
// notifier. Send runs on the bus dispatch goroutine; failures are logged.
func SubscribeBus(bus *events.Bus, notifier Notifier) {
	bus.Subscribe(func(e events.Event) {
		t, ok := classify(e.Type)
		if !ok {
			return
		}

		n := Notification{
			Type:     t,
			UserID:   e.UserID,
			TenantID: e.TenantID,
			Message:  fmt.Sprintf("%s for user %s", e.Type, e.UserID),
			Data:     e.Data,
			At:       e.At,
		}
		if e.Provider != "" {
			n.Message = fmt.Sprintf("%s on provider %s", e.Type, e.Provider)
		}

		if err := notifier.Send(context.Background(), n); err != nil {
			slog.Warn("notification delivery failed", "type", t, "error", err)
		}
	})
}

func classify(t events.Type) (Type, bool) {
	switch t {
	case events.TypeUsageLimitWarning:
		return TypeUsageWarning, true
	case events.TypeUsageLimitExceeded:
		return TypeUsageExceeded, true
	case events.TypeProviderUnavailable:
		return TypeProviderDown, true
	case events.TypeAPIKeyExpired:
		return TypeAPIKeyExpired, true
	case events.TypeAPIKeyUsageWarning:
		return TypeAPIKeyNearLimit, true
	}
	return "", false
}

// BudgetAlertHandler adapts the notifier into a budget alert sink.
func BudgetAlertHandler(notifier Notifier) budget.AlertHandler {
	return func(a budget.Alert) {
		t := TypeBudgetWarning
		switch a.Level {
		case budget.AlertLevelCritical:
			t = TypeBudgetCritical
		case budget.AlertLevelExceeded:
			t = TypeBudgetExceeded
		}

		n := Notification{
			Type:     t,
			UserID:   a.UserID,
			TenantID: a.TenantID,
			Message:  fmt.Sprintf("budget at %.0f%% (%.2f of %.2f USD)", a.Percentage*100, a.CurrentUSD, a.BudgetUSD),
			Data: map[string]any{
				"budget_usd":  a.BudgetUSD,
				"current_usd": a.CurrentUSD,
				"percentage":  a.Percentage,
			},
			At: a.Timestamp,
		}
		if err := notifier.Send(context.Background(), n); err != nil {
			slog.Warn("budget alert delivery failed", "level", a.Level, "error", err)
		}
	}
}

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
)

// ContactNotifier delivers an emergency notice to one contact.
type ContactNotifier interface {
	Notify(ctx context.Context, n models.ContactNotification) error
}

// LogNotifier only logs notifications. Used in development.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg models.ContactNotification) error {
	n.logger.Infow("Emergency contact notification",
		"case_id", msg.CaseID,
		"contact_id", msg.Contact.ID,
		"relation", msg.Contact.Relation,
		"phone", models.MaskPhone(msg.Contact.Phone),
		"urgent", msg.Urgent,
	)
	return nil
}

type webhookPayload struct {
	CaseID    string `json:"case_id"`
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	Relation  string `json:"relation"`
	Phone     string `json:"phone"`
	Urgent    bool   `json:"urgent"`
	Reason    string `json:"reason"`
}

// WebhookNotifier posts notifications to an SMS/call gateway.
type WebhookNotifier struct {
	client *resty.Client
	logger *zap.SugaredLogger
}

// NewWebhookNotifier retries transport errors and 5xx responses up to retries times.
func NewWebhookNotifier(url, token string, timeout time.Duration, retries int, logger *zap.SugaredLogger) *WebhookNotifier {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookNotifier{client: client, logger: logger}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg models.ContactNotification) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			CaseID:    msg.CaseID.String(),
			ContactID: msg.Contact.ID.String(),
			Name:      msg.Contact.Name,
			Relation:  msg.Contact.Relation,
			Phone:     msg.Contact.Phone,
			Urgent:    msg.Urgent,
			Reason:    msg.Reason,
		}).
		Post("")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailure, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: gateway returned %d", ErrNotificationFailure, resp.StatusCode())
	}

	n.logger.Infow("Emergency contact notified",
		"case_id", msg.CaseID,
		"contact_id", msg.Contact.ID,
		"phone", models.MaskPhone(msg.Contact.Phone),
		"attempts", resp.Request.Attempt,
	)
	return nil
}


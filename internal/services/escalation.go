package services

import (
	"fmt"
	"time"

	"github.com/mindcare/triage-server/internal/models"
)

// EscalationCoordinator turns the latest classified message into actions.
type EscalationCoordinator struct {
	cooldown time.Duration
	replies  *ReplySelector
	now      func() time.Time
}

// NewEscalationCoordinator creates a coordinator. A zero cooldown shows the
// high-risk warning once per case; a positive one re-shows it after that long.
func NewEscalationCoordinator(cooldown time.Duration, replies *ReplySelector, now func() time.Time) *EscalationCoordinator {
	if replies == nil {
		replies = NewReplySelector(nil)
	}
	return &EscalationCoordinator{cooldown: cooldown, replies: replies, now: storeClock(now)}
}

// storeClock wraps now so every recorded time is UTC at microsecond
// precision, the resolution PostgreSQL keeps. Audit digests hash the
// timestamp, so a value must read back exactly as it was written.
func storeClock(now func() time.Time) func() time.Time {
	if now == nil {
		now = time.Now
	}
	return func() time.Time { return now().UTC().Truncate(time.Microsecond) }
}

// Evaluate applies the decision table for latest, which must already be
// appended to c. It marks c's emergency and warning time in place and
// returns the actions in the order the caller should apply them.
// Responder messages produce no actions.
func (e *EscalationCoordinator) Evaluate(c *models.Case, latest models.Message) []models.Action {
	if latest.Sender != models.SenderRequester || !latest.RiskLevel.Valid() {
		return nil
	}

	var actions []models.Action
	now := e.now()

	switch latest.RiskLevel {
	case models.RiskHigh:
		if !c.EmergencyTriggered() {
			c.Emergency = &models.Emergency{
				Triggered: true,
				Reason:    "high-risk message detected",
				MessageID: latest.ID,
				Timestamp: now,
			}
			c.HighWarningAt = &now
			actions = append(actions,
				models.Action{Type: models.ActionShowWarning, Level: models.RiskHigh},
				models.Action{
					Type:             models.ActionLogIntervention,
					InterventionType: models.InterventionEscalationLog,
					Description:      fmt.Sprintf("emergency triggered by message %s", latest.ID),
				},
			)
			if c.Status == models.StatusWaiting {
				actions = append(actions, models.Action{
					Type:             models.ActionLogIntervention,
					InterventionType: models.InterventionHumanHandoff,
					Description:      "urgent responder requested for waiting case",
				})
			}
			actions = append(actions, models.Action{
				Type:     models.ActionNotifyContacts,
				Contacts: append([]models.EmergencyContact(nil), c.Contacts...),
				Urgent:   true,
			})
			break
		}

		if e.warningDue(c, now) {
			c.HighWarningAt = &now
			actions = append(actions, models.Action{Type: models.ActionShowWarning, Level: models.RiskHigh})
		}
		actions = append(actions, models.Action{
			Type:             models.ActionLogIntervention,
			InterventionType: models.InterventionEscalationLog,
			Description:      fmt.Sprintf("repeated high-risk message %s on escalated case", latest.ID),
		})

	case models.RiskMedium:
		actions = append(actions, models.Action{Type: models.ActionShowWarning, Level: models.RiskMedium})
	}

	actions = append(actions, models.Action{
		Type:  models.ActionAutoReply,
		Level: latest.RiskLevel,
		Text:  e.replies.Select(latest.RiskLevel),
	})
	return actions
}

func (e *EscalationCoordinator) warningDue(c *models.Case, now time.Time) bool {
	if e.cooldown <= 0 {
		return false
	}
	if c.HighWarningAt == nil {
		return true
	}
	return now.Sub(*c.HighWarningAt) >= e.cooldown
}

package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindcare/triage-server/internal/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func firstIndex(int) int { return 0 }

func newEvalCase(status models.CaseStatus, contacts int) *models.Case {
	c := &models.Case{ID: uuid.New(), Status: status}
	for i := 0; i < contacts; i++ {
		c.Contacts = append(c.Contacts, models.EmergencyContact{ID: uuid.New(), Name: "contact", Phone: "1380000000"})
	}
	return c
}

func requesterMsg(level models.RiskLevel) models.Message {
	return models.Message{ID: uuid.New(), Sender: models.SenderRequester, Content: "x", RiskLevel: level}
}

func actionTypes(actions []models.Action) []models.ActionType {
	out := make([]models.ActionType, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Type)
	}
	return out
}

func TestEvaluate_RecordsUTCMicroseconds(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	local := time.Date(2026, 10, 1, 17, 0, 0, 987654321, shanghai)

	for name, now := range map[string]func() time.Time{
		"injected local clock": func() time.Time { return local },
		"default clock":        nil,
	} {
		t.Run(name, func(t *testing.T) {
			c := newEvalCase(models.StatusActive, 0)
			NewEscalationCoordinator(0, nil, now).Evaluate(c, requesterMsg(models.RiskHigh))

			require.NotNil(t, c.Emergency)
			require.NotNil(t, c.HighWarningAt)
			for _, ts := range []time.Time{c.Emergency.Timestamp, *c.HighWarningAt} {
				assert.Equal(t, time.UTC, ts.Location())
				assert.Zero(t, ts.Nanosecond()%1000)
			}
			if now != nil {
				assert.True(t, c.Emergency.Timestamp.Equal(local.Truncate(time.Microsecond)))
			}
		})
	}
}

func TestEvaluate_FirstHighTriggersEmergency(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	e := NewEscalationCoordinator(0, NewReplySelector(firstIndex), clock.Now)
	c := newEvalCase(models.StatusActive, 2)
	msg := requesterMsg(models.RiskHigh)

	actions := e.Evaluate(c, msg)

	assert.Equal(t, []models.ActionType{
		models.ActionShowWarning,
		models.ActionLogIntervention,
		models.ActionNotifyContacts,
		models.ActionAutoReply,
	}, actionTypes(actions))
	assert.Equal(t, models.RiskHigh, actions[0].Level)
	assert.Equal(t, models.InterventionEscalationLog, actions[1].InterventionType)
	assert.True(t, actions[2].Urgent)
	assert.Len(t, actions[2].Contacts, 2)
	assert.Equal(t, Candidates(models.RiskHigh)[0], actions[3].Text)

	require.True(t, c.EmergencyTriggered())
	assert.Equal(t, msg.ID, c.Emergency.MessageID)
	assert.Equal(t, clock.t, c.Emergency.Timestamp)
}

func TestEvaluate_HighOnWaitingCaseRequestsHandoff(t *testing.T) {
	e := NewEscalationCoordinator(0, NewReplySelector(firstIndex), nil)
	c := newEvalCase(models.StatusWaiting, 0)

	actions := e.Evaluate(c, requesterMsg(models.RiskHigh))

	var handoff bool
	for _, a := range actions {
		if a.Type == models.ActionLogIntervention && a.InterventionType == models.InterventionHumanHandoff {
			handoff = true
		}
	}
	assert.True(t, handoff)
}

func TestEvaluate_RepeatedHighIsSticky(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	e := NewEscalationCoordinator(0, NewReplySelector(firstIndex), clock.Now)
	c := newEvalCase(models.StatusActive, 1)
	first := requesterMsg(models.RiskHigh)
	e.Evaluate(c, first)

	clock.Advance(time.Hour)
	actions := e.Evaluate(c, requesterMsg(models.RiskHigh))

	assert.Equal(t, []models.ActionType{models.ActionLogIntervention, models.ActionAutoReply}, actionTypes(actions))
	assert.Equal(t, first.ID, c.Emergency.MessageID, "emergency is set once")
}

func TestEvaluate_HighWarningCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	e := NewEscalationCoordinator(10*time.Minute, NewReplySelector(firstIndex), clock.Now)
	c := newEvalCase(models.StatusActive, 1)
	e.Evaluate(c, requesterMsg(models.RiskHigh))

	clock.Advance(5 * time.Minute)
	actions := e.Evaluate(c, requesterMsg(models.RiskHigh))
	assert.NotContains(t, actionTypes(actions), models.ActionShowWarning)

	clock.Advance(5 * time.Minute)
	actions = e.Evaluate(c, requesterMsg(models.RiskHigh))
	assert.Contains(t, actionTypes(actions), models.ActionShowWarning)
	assert.Equal(t, clock.t, *c.HighWarningAt)
}

func TestEvaluate_LowerLevels(t *testing.T) {
	e := NewEscalationCoordinator(0, NewReplySelector(firstIndex), nil)

	c := newEvalCase(models.StatusActive, 1)
	actions := e.Evaluate(c, requesterMsg(models.RiskMedium))
	assert.Equal(t, []models.ActionType{models.ActionShowWarning, models.ActionAutoReply}, actionTypes(actions))
	assert.Equal(t, models.RiskMedium, actions[0].Level)
	assert.False(t, c.EmergencyTriggered())

	for _, level := range []models.RiskLevel{models.RiskLow, models.RiskMinimal} {
		actions = e.Evaluate(c, requesterMsg(level))
		assert.Equal(t, []models.ActionType{models.ActionAutoReply}, actionTypes(actions))
		assert.Equal(t, level, actions[0].Level)
	}
	assert.False(t, c.EmergencyTriggered())
}

func TestEvaluate_ResponderMessageHasNoActions(t *testing.T) {
	e := NewEscalationCoordinator(0, nil, nil)
	c := newEvalCase(models.StatusActive, 1)
	actions := e.Evaluate(c, models.Message{ID: uuid.New(), Sender: models.SenderResponder, Content: "你好"})
	assert.Empty(t, actions)
}

func TestReplySelector(t *testing.T) {
	s := NewReplySelector(func(n int) int { return n - 1 })
	high := Candidates(models.RiskHigh)
	assert.Equal(t, high[len(high)-1], s.Select(models.RiskHigh))

	// out-of-range picks clamp to the first candidate
	s = NewReplySelector(func(int) int { return 99 })
	assert.Equal(t, Candidates(models.RiskLow)[0], s.Select(models.RiskLow))
	assert.Equal(t, Candidates(models.RiskLow)[0], s.Select("unknown"))

	s = NewReplySelector(nil)
	assert.Contains(t, Candidates(models.RiskMedium), s.Select(models.RiskMedium))
}

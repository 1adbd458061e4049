package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevel_Ordering(t *testing.T) {
	assert.True(t, RiskHigh.AtLeast(RiskMedium))
	assert.True(t, RiskMedium.AtLeast(RiskLow))
	assert.True(t, RiskLow.AtLeast(RiskMinimal))
	assert.False(t, RiskMinimal.AtLeast(RiskLow))
	assert.False(t, RiskLevel("").Valid())

	assert.Equal(t, RiskHigh, MaxRisk(RiskLow, RiskHigh))
	assert.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskLow))
	assert.Equal(t, RiskLow, MaxRisk("", RiskLow))
	assert.Equal(t, RiskMinimal, MaxRisk(RiskMinimal, ""))
}

func TestParseRiskLevel(t *testing.T) {
	l, err := ParseRiskLevel("  HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, l)

	_, err = ParseRiskLevel("critical")
	assert.Error(t, err)
	_, err = ParseRiskLevel("")
	assert.Error(t, err)
}

func TestCaseFilter_Match(t *testing.T) {
	s := CaseSummary{Status: StatusActive, AggregateRiskLevel: RiskMedium}

	assert.True(t, CaseFilter{}.Match(s))
	assert.True(t, CaseFilter{Status: StatusActive, MinRisk: RiskLow}.Match(s))
	assert.False(t, CaseFilter{MinRisk: RiskHigh}.Match(s))
	assert.False(t, CaseFilter{Status: StatusWaiting}.Match(s))
	assert.False(t, CaseFilter{EmergencyOnly: true}.Match(s))
}

func TestCase_CloneIsDeep(t *testing.T) {
	now := time.Now()
	outcome := "delivered"
	c := &Case{
		ID:            uuid.New(),
		Status:        StatusActive,
		Messages:      []Message{{ID: uuid.New(), Content: "hi"}},
		Interventions: []Intervention{{ID: uuid.New(), Outcome: &outcome}},
		Contacts:      []EmergencyContact{{ID: uuid.New(), Name: "Mom", NotifiedAt: &now}},
		Emergency:     &Emergency{Triggered: true},
	}

	cp := c.Clone()
	cp.Messages = append(cp.Messages, Message{Content: "more"})
	cp.Contacts[0].Notified = true
	*cp.Interventions[0].Outcome = "changed"
	cp.Emergency.Reason = "changed"

	assert.Len(t, c.Messages, 1)
	assert.False(t, c.Contacts[0].Notified)
	assert.Equal(t, "delivered", *c.Interventions[0].Outcome)
	assert.Empty(t, c.Emergency.Reason)
}

func TestIntervention_DigestStable(t *testing.T) {
	caseID := uuid.New()
	iv := Intervention{ID: uuid.New(), Type: InterventionEscalationLog, Timestamp: time.Unix(100, 0), Description: "x"}

	assert.Equal(t, iv.Digest(caseID), iv.Digest(caseID))
	assert.Len(t, iv.Digest(caseID), 64)

	other := iv
	other.Description = "y"
	assert.NotEqual(t, iv.Digest(caseID), other.Digest(caseID))
}

func TestIntervention_DigestIgnoresSubMicrosecond(t *testing.T) {
	caseID := uuid.New()
	shanghai := time.FixedZone("CST", 8*3600)
	written := Intervention{
		ID: uuid.New(), Type: InterventionNotifyContact, Description: "notified",
		Timestamp: time.Date(2026, 10, 1, 17, 0, 0, 123456789, shanghai),
	}
	readBack := written
	readBack.Timestamp = time.Date(2026, 10, 1, 9, 0, 0, 123456000, time.UTC)

	assert.Equal(t, written.Digest(caseID), readBack.Digest(caseID))

	later := written
	later.Timestamp = written.Timestamp.Add(time.Microsecond)
	assert.NotEqual(t, written.Digest(caseID), later.Digest(caseID))
}

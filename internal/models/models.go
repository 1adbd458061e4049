// Package models defines the data structures used across the triage server.
// Case and its children map to the PostgreSQL schema in internal/store.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderRequester Sender = "requester"
	SenderResponder Sender = "responder"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderRequester || s == SenderResponder
}

// CaseStatus is the lifecycle state of a consultation case.
type CaseStatus string

const (
	StatusWaiting CaseStatus = "waiting"
	StatusActive  CaseStatus = "active"
	StatusEnded   CaseStatus = "ended"
)

// Valid reports whether s is a known status.
func (s CaseStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusEnded:
		return true
	}
	return false
}

// InterventionType classifies an entry in a case's audit trail.
type InterventionType string

const (
	InterventionNotifyContact  InterventionType = "notify_contact"
	InterventionCounselorReply InterventionType = "counselor_reply"
	InterventionHumanHandoff   InterventionType = "human_handoff"
	InterventionEscalationLog  InterventionType = "escalation_log"
)

// Message is a single entry in a case conversation.
// RiskLevel is set for requester messages only and never changes afterwards.
type Message struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Content    string     `json:"content" db:"content"`
	Sender     Sender     `json:"sender" db:"sender"`
	Timestamp  time.Time  `json:"timestamp" db:"created_at"`
	RiskLevel  RiskLevel  `json:"riskLevel,omitempty" db:"risk_level"`
	RiskSource RiskSource `json:"riskSource,omitempty" db:"risk_source"`
}

// Emergency records the escalation of a case. Once Triggered it stays set.
type Emergency struct {
	Triggered bool      `json:"triggered" db:"emergency_triggered"`
	Reason    string    `json:"reason" db:"emergency_reason"`
	MessageID uuid.UUID `json:"messageId" db:"emergency_message_id"`
	Timestamp time.Time `json:"timestamp" db:"emergency_at"`
}

// Intervention is an append-only audit record of an action taken on a case.
type Intervention struct {
	ID          uuid.UUID        `json:"id" db:"id"`
	Type        InterventionType `json:"type" db:"type"`
	Timestamp   time.Time        `json:"timestamp" db:"created_at"`
	Description string           `json:"description" db:"description"`
	Outcome     *string          `json:"outcome" db:"outcome"`
}

// Digest returns the audit leaf hash for this intervention within caseID.
// The timestamp is hashed at microsecond precision so the digest survives a
// round trip through TIMESTAMPTZ.
func (i Intervention) Digest(caseID uuid.UUID) string {
	h := sha256.New()
	h.Write([]byte(caseID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(i.ID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(i.Type))
	h.Write([]byte{'|'})
	h.Write([]byte(i.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)))
	h.Write([]byte{'|'})
	h.Write([]byte(i.Description))
	return hex.EncodeToString(h.Sum(nil))
}

// EmergencyContact belongs to exactly one case.
// Notified only moves from false to true.
type EmergencyContact struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Relation   string     `json:"relation" db:"relation"`
	Phone      string     `json:"phone" db:"phone"`
	Notified   bool       `json:"notified" db:"notified"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty" db:"notified_at"`
}

// Case is a consultation/triage session between a requester and a responder.
type Case struct {
	ID                 uuid.UUID          `json:"id" db:"id"`
	SubjectRef         string             `json:"subjectRef" db:"subject_ref"`
	Status             CaseStatus         `json:"status" db:"status"`
	ResponderID        string             `json:"responderId,omitempty" db:"responder_id"`
	AggregateRiskLevel RiskLevel          `json:"aggregateRiskLevel,omitempty" db:"aggregate_risk_level"`
	Messages           []Message          `json:"messages"`
	Emergency          *Emergency         `json:"emergency,omitempty"`
	Interventions      []Intervention     `json:"interventions"`
	Contacts           []EmergencyContact `json:"contacts"`
	HighWarningAt      *time.Time         `json:"highWarningAt,omitempty" db:"high_warning_at"`
	CreatedAt          time.Time          `json:"createdAt" db:"created_at"`
	LastActivityAt     time.Time          `json:"lastActivityAt" db:"last_activity_at"`
	EndedAt            *time.Time         `json:"endedAt,omitempty" db:"ended_at"`
}

// EmergencyTriggered reports whether the case has been escalated.
func (c *Case) EmergencyTriggered() bool {
	return c.Emergency != nil && c.Emergency.Triggered
}

// Contact returns the index of the contact with the given id, or -1.
func (c *Case) Contact(id uuid.UUID) int {
	for i := range c.Contacts {
		if c.Contacts[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate it without touching c.
func (c *Case) Clone() *Case {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Interventions = make([]Intervention, len(c.Interventions))
	for i, iv := range c.Interventions {
		if iv.Outcome != nil {
			o := *iv.Outcome
			iv.Outcome = &o
		}
		out.Interventions[i] = iv
	}
	out.Contacts = make([]EmergencyContact, len(c.Contacts))
	for i, ct := range c.Contacts {
		if ct.NotifiedAt != nil {
			t := *ct.NotifiedAt
			ct.NotifiedAt = &t
		}
		out.Contacts[i] = ct
	}
	if c.Emergency != nil {
		e := *c.Emergency
		out.Emergency = &e
	}
	if c.HighWarningAt != nil {
		t := *c.HighWarningAt
		out.HighWarningAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// Summary projects the case onto its listing row.
func (c *Case) Summary() CaseSummary {
	return CaseSummary{
		ID:                 c.ID,
		Status:             c.Status,
		ResponderID:        c.ResponderID,
		AggregateRiskLevel: c.AggregateRiskLevel,
		Emergency:          c.EmergencyTriggered(),
		MessageCount:       len(c.Messages),
		CreatedAt:          c.CreatedAt,
		LastActivityAt:     c.LastActivityAt,
	}
}

// CaseSummary is the console listing row for a case.
type CaseSummary struct {
	ID                 uuid.UUID  `json:"id"`
	Status             CaseStatus `json:"status"`
	ResponderID        string     `json:"responderId,omitempty"`
	AggregateRiskLevel RiskLevel  `json:"aggregateRiskLevel,omitempty"`
	Emergency          bool       `json:"emergency"`
	MessageCount       int        `json:"messageCount"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastActivityAt     time.Time  `json:"lastActivityAt"`
}

// CaseFilter narrows case listings. Zero values match everything.
type CaseFilter struct {
	Status        CaseStatus
	MinRisk       RiskLevel
	EmergencyOnly bool
	Limit         int
}

// Match reports whether a summary passes the filter (Limit is not applied).
func (f CaseFilter) Match(s CaseSummary) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.MinRisk != "" && !s.AggregateRiskLevel.AtLeast(f.MinRisk) {
		return false
	}
	if f.EmergencyOnly && !s.Emergency {
		return false
	}
	return true
}

// ActionType names an instruction returned to the caller after a message.
type ActionType string

const (
	ActionShowWarning     ActionType = "show_warning"
	ActionNotifyContacts  ActionType = "notify_contacts"
	ActionLogIntervention ActionType = "log_intervention"
	ActionAutoReply       ActionType = "auto_reply"
)

// Action is a side-effect instruction. Only the fields relevant to Type are set:
//
//	show_warning:     Level
//	notify_contacts:  Contacts, Urgent
//	log_intervention: InterventionType, Description
//	auto_reply:       Text, Level
type Action struct {
	Type             ActionType         `json:"type"`
	Level            RiskLevel          `json:"level,omitempty"`
	Contacts         []EmergencyContact `json:"contacts,omitempty"`
	Urgent           bool               `json:"urgent,omitempty"`
	InterventionType InterventionType   `json:"interventionType,omitempty"`
	Description      string             `json:"description,omitempty"`
	Text             string             `json:"text,omitempty"`
}

// SubmitResult is returned by the message entry point.
type SubmitResult struct {
	Message Message  `json:"message"`
	Case    *Case    `json:"case"`
	Actions []Action `json:"actions"`
}

// AnalysisResult is the response of an external sentiment/risk model.
type AnalysisResult struct {
	RiskLevel  string          `json:"risk_level,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// ContactNotification is handed to a ContactNotifier.
type ContactNotification struct {
	CaseID  uuid.UUID        `json:"case_id"`
	Contact EmergencyContact `json:"contact"`
	Urgent  bool             `json:"urgent"`
	Reason  string           `json:"reason"`
}

// CreateCaseRequest is the request body for opening a case.
type CreateCaseRequest struct {
	Subject       string           `json:"subject" validate:"required"`
	AcceptedTerms bool             `json:"accepted_terms"`
	Contacts      []ContactRequest `json:"contacts,omitempty"`
}

// ContactRequest is the request body for attaching an emergency contact.
type ContactRequest struct {
	Name     string `json:"name" validate:"required"`
	Relation string `json:"relation"`
	Phone    string `json:"phone" validate:"required"`
}

// MessageRequest is the request body for submitting a message.
type MessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// MerkleProof contains the Merkle proof for a specific audit leaf
type MerkleProof struct {
	LeafHash string      `json:"leaf_hash"`
	Root     string      `json:"root"`
	Proof    []ProofStep `json:"proof"`
	Index    int         `json:"index"`
	Verified bool        `json:"verified"`
}

// ProofStep is a single step in a Merkle proof path
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"` // "left" | "right"
}

// RiskDistribution counts cases per aggregate risk level.
type RiskDistribution struct {
	Level RiskLevel `json:"level"`
	Count int       `json:"count"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Store      string `json:"store"`
	MerkleRoot string `json:"merkle_root,omitempty"`
}

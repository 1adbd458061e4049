package models

import (
	"time"

	"github.com/google/uuid"
)

// RequesterCase is the requester's view of a case. The subject reference,
// responder identity, escalation details and intervention trail stay on the
// console side.
type RequesterCase struct {
	ID             uuid.UUID          `json:"id"`
	Status         CaseStatus         `json:"status"`
	Messages       []Message          `json:"messages"`
	Emergency      bool               `json:"emergency"`
	Contacts       []RequesterContact `json:"contacts"`
	CreatedAt      time.Time          `json:"createdAt"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
	EndedAt        *time.Time         `json:"endedAt,omitempty"`
}

// RequesterContact is an emergency contact with the phone number masked.
type RequesterContact struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Relation string    `json:"relation"`
	Phone    string    `json:"phone"`
	Notified bool      `json:"notified"`
}

// RequesterSubmitResult is SubmitResult as returned on the requester route.
type RequesterSubmitResult struct {
	Message Message        `json:"message"`
	Case    *RequesterCase `json:"case"`
	Actions []Action       `json:"actions"`
}

// RequesterView projects the case for the requester.
func (c *Case) RequesterView() *RequesterCase {
	out := &RequesterCase{
		ID:             c.ID,
		Status:         c.Status,
		Messages:       append([]Message{}, c.Messages...),
		Emergency:      c.EmergencyTriggered(),
		Contacts:       make([]RequesterContact, 0, len(c.Contacts)),
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
		EndedAt:        c.EndedAt,
	}
	for _, ct := range c.Contacts {
		out.Contacts = append(out.Contacts, ct.RequesterView())
	}
	return out
}

// RequesterView drops everything but the contact's display fields.
func (ct EmergencyContact) RequesterView() RequesterContact {
	return RequesterContact{
		ID:       ct.ID,
		Name:     ct.Name,
		Relation: ct.Relation,
		Phone:    MaskPhone(ct.Phone),
		Notified: ct.Notified,
	}
}

// RequesterView masks contact phones carried by notify actions.
func (r *SubmitResult) RequesterView() *RequesterSubmitResult {
	out := &RequesterSubmitResult{
		Message: r.Message,
		Actions: make([]Action, len(r.Actions)),
	}
	if r.Case != nil {
		out.Case = r.Case.RequesterView()
	}
	for i, a := range r.Actions {
		if a.Contacts != nil {
			contacts := make([]EmergencyContact, len(a.Contacts))
			for j, ct := range a.Contacts {
				ct.Phone = MaskPhone(ct.Phone)
				contacts[j] = ct
			}
			a.Contacts = contacts
		}
		out.Actions[i] = a
	}
	return out
}

// MaskPhone keeps the last four digits.
func MaskPhone(phone string) string {
	r := []rune(phone)
	if len(r) <= 4 {
		return "****"
	}
	for i := 0; i < len(r)-4; i++ {
		r[i] = '*'
	}
	return string(r)
}

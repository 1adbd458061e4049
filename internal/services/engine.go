package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/store"
)

var engineTracer = otel.Tracer("triage/engine")

const (
	outcomeDelivered  = "delivered"
	outcomeNoContacts = "no contacts on file"
)

// CaseStore persists cases. Implementations return copies and report unknown
// ids with store.ErrNotFound.
type CaseStore interface {
	Create(ctx context.Context, c *models.Case) error
	Get(ctx context.Context, id uuid.UUID) (*models.Case, error)
	Save(ctx context.Context, c *models.Case) error
	List(ctx context.Context, filter models.CaseFilter) ([]models.CaseSummary, error)
	RiskDistribution(ctx context.Context) ([]models.RiskDistribution, error)
	InterventionDigests(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// EngineOptions wires the engine's collaborators. Store and Classifier are required.
type EngineOptions struct {
	Store         CaseStore
	Locker        Locker
	Classifier    *RiskClassifier
	Coordinator   *EscalationCoordinator
	Notifier      ContactNotifier
	NotifyTimeout time.Duration
	Metrics       *TriageMetrics
	Now           func() time.Time
}

// Engine runs the case lifecycle: every mutation happens under the case lock
// on a copy of the stored case, which is saved once at the end.
type Engine struct {
	store         CaseStore
	locker        Locker
	classifier    *RiskClassifier
	coordinator   *EscalationCoordinator
	notifier      ContactNotifier
	notifyTimeout time.Duration
	metrics       *TriageMetrics
	now           func() time.Time
	logger        *zap.SugaredLogger
}

func NewEngine(opts EngineOptions, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		store:         opts.Store,
		locker:        opts.Locker,
		classifier:    opts.Classifier,
		coordinator:   opts.Coordinator,
		notifier:      opts.Notifier,
		notifyTimeout: opts.NotifyTimeout,
		metrics:       opts.Metrics,
		now:           storeClock(opts.Now),
		logger:        logger,
	}
	if e.locker == nil {
		e.locker = NewKeyedLocker(0)
	}
	if e.coordinator == nil {
		e.coordinator = NewEscalationCoordinator(0, nil, e.now)
	}
	if e.notifier == nil {
		e.notifier = NewLogNotifier(logger)
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 5 * time.Second
	}
	return e
}

// Store exposes the backing store for health checks and the audit worker.
func (e *Engine) Store() CaseStore { return e.store }

// CreateCase opens a waiting case for an anonymized subject reference.
func (e *Engine) CreateCase(ctx context.Context, subjectRef string, contacts ...models.ContactRequest) (*models.Case, error) {
	subjectRef = strings.TrimSpace(subjectRef)
	if subjectRef == "" {
		return nil, fmt.Errorf("%w: subject reference is required", ErrInvalidInput)
	}

	now := e.now()
	c := &models.Case{
		ID:             uuid.New(),
		SubjectRef:     subjectRef,
		Status:         models.StatusWaiting,
		Messages:       []models.Message{},
		Interventions:  []models.Intervention{},
		Contacts:       make([]models.EmergencyContact, 0, len(contacts)),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	for _, req := range contacts {
		contact, err := newContact(req)
		if err != nil {
			return nil, err
		}
		c.Contacts = append(c.Contacts, contact)
	}

	if err := e.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}

	e.logger.Infow("Case created",
		"case_id", c.ID,
		"contacts", len(c.Contacts),
	)
	return c, nil
}

// GetCase returns a snapshot of the case.
func (e *Engine) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	return e.load(ctx, id)
}

// ListCases returns case summaries, most recent activity first.
func (e *Engine) ListCases(ctx context.Context, filter models.CaseFilter) ([]models.CaseSummary, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	if filter.MinRisk != "" && !filter.MinRisk.Valid() {
		return nil, fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, filter.MinRisk)
	}
	if filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	}
	rows, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	return rows, nil
}

// RiskDistribution counts cases per aggregate risk level.
func (e *Engine) RiskDistribution(ctx context.Context) ([]models.RiskDistribution, error) {
	dist, err := e.store.RiskDistribution(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk distribution: %w", err)
	}
	return dist, nil
}

// SubmitMessage records a message, classifies it when it comes from the
// requester, and returns the actions the caller must render. Contact
// notification is carried out here; the returned notify action lists the
// contacts with their updated state.
func (e *Engine) SubmitMessage(ctx context.Context, caseID uuid.UUID, text string, sender models.Sender) (*models.SubmitResult, error) {
	ctx, span := engineTracer.Start(ctx, "engine.submit_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("triage.case_id", caseID.String()),
		attribute.String("triage.sender", string(sender)),
	)
	started := time.Now()

	content := strings.TrimSpace(text)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if !sender.Valid() {
		return nil, fmt.Errorf("%w: unknown sender %q", ErrInvalidInput, sender)
	}

	unlock, err := e.locker.Lock(ctx, caseID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if stored.Status == models.StatusEnded {
		return nil, fmt.Errorf("%w: case %s has ended", ErrInvalidState, caseID)
	}

	c := stored.Clone()
	now := e.now()
	msg := models.Message{
		ID:        uuid.New(),
		Content:   content,
		Sender:    sender,
		Timestamp: now,
	}
	if sender == models.SenderRequester {
		level, source, err := e.classifier.ClassifyMessage(ctx, content)
		if err != nil {
			return nil, err
		}
		msg.RiskLevel = level
		msg.RiskSource = source
		c.AggregateRiskLevel = models.MaxRisk(c.AggregateRiskLevel, level)
	}
	c.Messages = append(c.Messages, msg)
	c.LastActivityAt = now

	wasTriggered := c.EmergencyTriggered()
	actions := e.coordinator.Evaluate(c, msg)
	if !wasTriggered && c.EmergencyTriggered() {
		e.metrics.ObserveEscalation()
		e.logger.Warnw("Case escalated",
			"case_id", c.ID,
			"status", c.Status,
			"message_id", msg.ID,
		)
	}
	e.apply(ctx, c, actions, now)

	if err := e.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save case: %w", e.mapStoreErr(err, caseID))
	}

	e.metrics.ObserveSubmit(sender, time.Since(started))
	e.logger.Infow("Message submitted",
		"case_id", c.ID,
		"sender", sender,
		"risk_level", msg.RiskLevel,
		"aggregate_risk_level", c.AggregateRiskLevel,
		"actions", len(actions),
	)
	if actions == nil {
		actions = []models.Action{}
	}
	return &models.SubmitResult{Message: msg, Case: c, Actions: actions}, nil
}

// AssignResponder moves a waiting case to active under responderID.
func (e *Engine) AssignResponder(ctx context.Context, caseID uuid.UUID, responderID string) (*models.Case, error) {
	responderID = strings.TrimSpace(responderID)
	if responderID == "" {
		return nil, fmt.Errorf("%w: responder id is required", ErrInvalidInput)
	}
	return e.mutate(ctx, caseID, func(c *models.Case, now time.Time) error {
		if c.Status != models.StatusWaiting {
			return fmt.Errorf("%w: case %s is %s, not waiting", ErrInvalidState, caseID, c.Status)
		}
		c.Status = models.StatusActive
		c.ResponderID = responderID
		c.LastActivityAt = now
		appendIntervention(c, models.InterventionHumanHandoff,
			fmt.Sprintf("responder %s joined the case", responderID), nil, now)
		return nil
	})
}

// EndCase closes a waiting or active case. Ended cases reject further writes.
func (e *Engine) EndCase(ctx context.Context, caseID uuid.UUID) (*models.Case, error) {
	return e.mutate(ctx, caseID, func(c *models.Case, now time.Time) error {
		if c.Status == models.StatusEnded {
			return fmt.Errorf("%w: case %s already ended", ErrInvalidState, caseID)
		}
		c.Status = models.StatusEnded
		c.EndedAt = &now
		c.LastActivityAt = now
		return nil
	})
}

// AddContact attaches an emergency contact to an open case.
func (e *Engine) AddContact(ctx context.Context, caseID uuid.UUID, req models.ContactRequest) (*models.EmergencyContact, error) {
	contact, err := newContact(req)
	if err != nil {
		return nil, err
	}
	_, err = e.mutate(ctx, caseID, func(c *models.Case, now time.Time) error {
		if c.Status == models.StatusEnded {
			return fmt.Errorf("%w: case %s has ended", ErrInvalidState, caseID)
		}
		c.Contacts = append(c.Contacts, contact)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// NotifyContact notifies one contact on demand. A contact that was already
// notified is left alone and no external call is made. A delivery failure is
// recorded on the case and returned wrapped in ErrNotificationFailure.
func (e *Engine) NotifyContact(ctx context.Context, caseID, contactID uuid.UUID) (*models.Case, error) {
	unlock, err := e.locker.Lock(ctx, caseID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	idx := stored.Contact(contactID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: contact %s", ErrNotFound, contactID)
	}
	if stored.Contacts[idx].Notified {
		return stored, nil
	}

	c := stored.Clone()
	now := e.now()
	notifyErr := e.notifyOne(ctx, c, idx, c.EmergencyTriggered(), "requested from counselor console", now)
	if err := e.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save case: %w", e.mapStoreErr(err, caseID))
	}
	if notifyErr != nil {
		return c, notifyErr
	}
	return c, nil
}

// mutate loads caseID under its lock, applies fn to a copy and saves it.
func (e *Engine) mutate(ctx context.Context, caseID uuid.UUID, fn func(c *models.Case, now time.Time) error) (*models.Case, error) {
	unlock, err := e.locker.Lock(ctx, caseID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	stored, err := e.load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	c := stored.Clone()
	if err := fn(c, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("save case: %w", e.mapStoreErr(err, caseID))
	}
	return c, nil
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.mapStoreErr(err, id)
	}
	return c, nil
}

func (e *Engine) mapStoreErr(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: case %s", ErrNotFound, id)
	}
	return err
}

// apply performs the engine-side bookkeeping for actions, in order.
func (e *Engine) apply(ctx context.Context, c *models.Case, actions []models.Action, now time.Time) {
	for i, a := range actions {
		switch a.Type {
		case models.ActionLogIntervention:
			appendIntervention(c, a.InterventionType, a.Description, nil, now)
		case models.ActionNotifyContacts:
			actions[i].Contacts = e.notifyContacts(ctx, c, a.Contacts, a.Urgent, now)
		case models.ActionAutoReply:
			if a.Level.AtLeast(models.RiskMedium) {
				appendIntervention(c, models.InterventionCounselorReply,
					fmt.Sprintf("automatic supportive reply sent at %s risk", a.Level), nil, now)
			}
		}
	}
}

// notifyContacts notifies each listed contact not yet notified and returns
// the listed contacts as they stand afterwards.
func (e *Engine) notifyContacts(ctx context.Context, c *models.Case, listed []models.EmergencyContact, urgent bool, now time.Time) []models.EmergencyContact {
	if len(c.Contacts) == 0 {
		outcome := outcomeNoContacts
		appendIntervention(c, models.InterventionNotifyContact, "emergency contact notification", &outcome, now)
		e.logger.Warnw("Escalated case has no emergency contacts", "case_id", c.ID)
		return listed
	}

	out := make([]models.EmergencyContact, 0, len(listed))
	for _, l := range listed {
		idx := c.Contact(l.ID)
		if idx < 0 {
			continue
		}
		if !c.Contacts[idx].Notified {
			// failures are recorded on the case; keep going with the rest
			_ = e.notifyOne(ctx, c, idx, urgent, "high-risk message detected", now)
		}
		out = append(out, c.Contacts[idx])
	}
	return out
}

// notifyOne calls the notifier for c.Contacts[idx] and records the outcome.
func (e *Engine) notifyOne(ctx context.Context, c *models.Case, idx int, urgent bool, reason string, now time.Time) error {
	contact := &c.Contacts[idx]

	nctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
	defer cancel()
	err := e.notifier.Notify(nctx, models.ContactNotification{
		CaseID:  c.ID,
		Contact: *contact,
		Urgent:  urgent,
		Reason:  reason,
	})

	description := fmt.Sprintf("notify %s contact %s", contact.Relation, contact.ID)
	if err != nil {
		if !errors.Is(err, ErrNotificationFailure) {
			err = fmt.Errorf("%w: %w", ErrNotificationFailure, err)
		}
		outcome := "failed: " + err.Error()
		appendIntervention(c, models.InterventionNotifyContact, description, &outcome, now)
		e.metrics.ObserveNotification(false)
		e.logger.Warnw("Emergency contact notification failed",
			"case_id", c.ID,
			"contact_id", contact.ID,
			"error", err,
		)
		return err
	}

	contact.Notified = true
	contact.NotifiedAt = &now
	outcome := outcomeDelivered
	appendIntervention(c, models.InterventionNotifyContact, description, &outcome, now)
	e.metrics.ObserveNotification(true)
	return nil
}

func appendIntervention(c *models.Case, typ models.InterventionType, description string, outcome *string, now time.Time) {
	c.Interventions = append(c.Interventions, models.Intervention{
		ID:          uuid.New(),
		Type:        typ,
		Timestamp:   now,
		Description: description,
		Outcome:     outcome,
	})
}

func newContact(req models.ContactRequest) (models.EmergencyContact, error) {
	name := strings.TrimSpace(req.Name)
	phone := strings.TrimSpace(req.Phone)
	if name == "" || phone == "" {
		return models.EmergencyContact{}, fmt.Errorf("%w: contact name and phone are required", ErrInvalidInput)
	}
	return models.EmergencyContact{
		ID:       uuid.New(),
		Name:     name,
		Relation: strings.TrimSpace(req.Relation),
		Phone:    phone,
	}, nil
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mindcare/triage-server/internal/models"
	"github.com/mindcare/triage-server/internal/store"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []models.ContactNotification
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.ContactNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

// failingStore fails Save while saveErr is set.
type failingStore struct {
	*store.MemoryStore
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, c *models.Case) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.MemoryStore.Save(ctx, c)
}

type engineFixture struct {
	engine   *Engine
	store    CaseStore
	notifier *recordingNotifier
	clock    *fakeClock
}

func newEngineFixture(t *testing.T, st CaseStore) *engineFixture {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop().Sugar()
	notifier := &recordingNotifier{}
	engine := NewEngine(EngineOptions{
		Store:       st,
		Locker:      NewKeyedLocker(5 * time.Second),
		Classifier:  NewRiskClassifier(DefaultKeywordPolicy(), nil, ClassifierConfig{}, nil, logger),
		Coordinator: NewEscalationCoordinator(0, NewReplySelector(firstIndex), clock.Now),
		Notifier:    notifier,
		Now:         clock.Now,
	}, logger)
	return &engineFixture{engine: engine, store: st, notifier: notifier, clock: clock}
}

func (f *engineFixture) newCase(t *testing.T, contacts ...models.ContactRequest) *models.Case {
	t.Helper()
	c, err := f.engine.CreateCase(context.Background(), "subject-ref", contacts...)
	require.NoError(t, err)
	return c
}

var mother = models.ContactRequest{Name: "Li", Relation: "mother", Phone: "13800000000"}

func countInterventions(c *models.Case, typ models.InterventionType) int {
	n := 0
	for _, iv := range c.Interventions {
		if iv.Type == typ {
			n++
		}
	}
	return n
}

func TestEngine_CreateCase(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	c := f.newCase(t, mother)
	assert.Equal(t, models.StatusWaiting, c.Status)
	assert.Empty(t, c.Messages)
	require.Len(t, c.Contacts, 1)
	assert.False(t, c.Contacts[0].Notified)

	_, err := f.engine.CreateCase(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.CreateCase(ctx, "ref", models.ContactRequest{Name: "Li"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = f.engine.GetCase(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_MonotonicAggregate(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	var got []models.RiskLevel
	for _, text := range []string{"有点难过", "我想死", "压力有点大"} {
		res, err := f.engine.SubmitMessage(ctx, c.ID, text, models.SenderRequester)
		require.NoError(t, err)
		got = append(got, res.Case.AggregateRiskLevel)
	}
	assert.Equal(t, []models.RiskLevel{models.RiskLow, models.RiskHigh, models.RiskHigh}, got)
}

func TestEngine_EmergencyIsSticky(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t, mother)

	_, err := f.engine.SubmitMessage(ctx, c.ID, "我不想活了", models.SenderRequester)
	require.NoError(t, err)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "最近很绝望", models.SenderRequester)
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, res.Message.RiskLevel)
	assert.True(t, res.Case.EmergencyTriggered())
	assert.Equal(t, 1, f.notifier.count())
}

func TestEngine_TimestampsFitStorePrecision(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.clock.t = time.Date(2026, 10, 1, 17, 0, 0, 123456789, time.FixedZone("CST", 8*3600))
	ctx := context.Background()
	c := f.newCase(t, mother)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "我不想活了", models.SenderRequester)
	require.NoError(t, err)

	want := time.Date(2026, 10, 1, 9, 0, 0, 123456000, time.UTC)
	assert.Equal(t, want, res.Message.Timestamp)
	assert.Equal(t, want, res.Case.Emergency.Timestamp)
	assert.Equal(t, want, res.Case.LastActivityAt)
	require.NotEmpty(t, res.Case.Interventions)
	for _, iv := range res.Case.Interventions {
		assert.Equal(t, want, iv.Timestamp)
	}
}

func TestEngine_NotifyContactIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t, mother)
	contactID := c.Contacts[0].ID

	got, err := f.engine.NotifyContact(ctx, c.ID, contactID)
	require.NoError(t, err)
	assert.True(t, got.Contacts[0].Notified)

	got, err = f.engine.NotifyContact(ctx, c.ID, contactID)
	require.NoError(t, err)
	assert.True(t, got.Contacts[0].Notified)
	assert.Equal(t, 1, f.notifier.count())
	assert.Equal(t, 1, countInterventions(got, models.InterventionNotifyContact))

	// escalation skips contacts that were already reached
	_, err = f.engine.SubmitMessage(ctx, c.ID, "想结束生命", models.SenderRequester)
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.count())

	_, err = f.engine.NotifyContact(ctx, c.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_EndedCaseRejectsMessages(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	_, err := f.engine.SubmitMessage(ctx, c.ID, "有点难过", models.SenderRequester)
	require.NoError(t, err)

	ended, err := f.engine.EndCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	_, err = f.engine.SubmitMessage(ctx, c.ID, "还有一件事", models.SenderRequester)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.engine.EndCase(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.engine.AddContact(ctx, c.ID, mother)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestEngine_EndToEndScenario(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t, mother)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "我和室友吵架了，有点难过", models.SenderRequester)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, res.Message.RiskLevel)
	assert.Equal(t, []models.ActionType{models.ActionAutoReply}, actionTypes(res.Actions))
	assert.False(t, res.Case.EmergencyTriggered())

	res, err = f.engine.SubmitMessage(ctx, c.ID, "我觉得活着没有意义，想消失", models.SenderRequester)
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, res.Message.RiskLevel)
	types := actionTypes(res.Actions)
	assert.Contains(t, types, models.ActionShowWarning)
	assert.Contains(t, types, models.ActionNotifyContacts)
	assert.Contains(t, types, models.ActionLogIntervention)
	assert.Equal(t, models.RiskHigh, res.Actions[0].Level)
	assert.True(t, res.Case.EmergencyTriggered())
	assert.Equal(t, res.Message.ID, res.Case.Emergency.MessageID)

	// waiting case: escalation log, handoff request, delivered notification, counselor reply
	assert.Equal(t, 1, countInterventions(res.Case, models.InterventionEscalationLog))
	assert.Equal(t, 1, countInterventions(res.Case, models.InterventionHumanHandoff))
	assert.Equal(t, 1, countInterventions(res.Case, models.InterventionNotifyContact))
	assert.Equal(t, 1, countInterventions(res.Case, models.InterventionCounselorReply))
	assert.True(t, res.Case.Contacts[0].Notified)
	for _, a := range res.Actions {
		if a.Type == models.ActionNotifyContacts {
			require.Len(t, a.Contacts, 1)
			assert.True(t, a.Contacts[0].Notified)
		}
	}
	require.Equal(t, 1, f.notifier.count())
	assert.True(t, f.notifier.calls[0].Urgent)

	res, err = f.engine.SubmitMessage(ctx, c.ID, "谢谢你，我感觉好一些了", models.SenderRequester)
	require.NoError(t, err)
	assert.Equal(t, models.RiskMinimal, res.Message.RiskLevel)
	assert.Equal(t, models.RiskHigh, res.Case.AggregateRiskLevel)
	assert.True(t, res.Case.EmergencyTriggered())

	stored, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 3)
	assert.Equal(t, models.RiskHigh, stored.AggregateRiskLevel)
}

func TestEngine_ResponderFlow(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	_, err := f.engine.AssignResponder(ctx, c.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	active, err := f.engine.AssignResponder(ctx, c.ID, "counselor-7")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)
	assert.Equal(t, "counselor-7", active.ResponderID)
	assert.Equal(t, 1, countInterventions(active, models.InterventionHumanHandoff))

	_, err = f.engine.AssignResponder(ctx, c.ID, "counselor-8")
	assert.ErrorIs(t, err, ErrInvalidState)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "你好，我在这里", models.SenderResponder)
	require.NoError(t, err)
	assert.Empty(t, res.Message.RiskLevel)
	assert.Empty(t, res.Actions)
	assert.Empty(t, res.Case.AggregateRiskLevel)
}

func TestEngine_InputValidation(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	_, err := f.engine.SubmitMessage(ctx, c.ID, "   ", models.SenderRequester)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.SubmitMessage(ctx, c.ID, "你好", models.Sender("bot"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.SubmitMessage(ctx, uuid.New(), "你好", models.SenderRequester)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestEngine_NotificationFailureIsRecorded(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.notifier.err = errors.New("gateway unavailable")
	ctx := context.Background()
	c := f.newCase(t, mother)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "我想自杀", models.SenderRequester)
	require.NoError(t, err)
	assert.Contains(t, actionTypes(res.Actions), models.ActionShowWarning)
	assert.False(t, res.Case.Contacts[0].Notified)

	var outcome string
	for _, iv := range res.Case.Interventions {
		if iv.Type == models.InterventionNotifyContact {
			require.NotNil(t, iv.Outcome)
			outcome = *iv.Outcome
		}
	}
	assert.Contains(t, outcome, "failed: ")
	assert.Contains(t, outcome, "gateway unavailable")

	// the console retry surfaces the failure
	f.notifier.err = errors.New("still down")
	_, err = f.engine.NotifyContact(ctx, c.ID, c.Contacts[0].ID)
	assert.ErrorIs(t, err, ErrNotificationFailure)

	f.notifier.err = nil
	got, err := f.engine.NotifyContact(ctx, c.ID, c.Contacts[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Contacts[0].Notified)
}

func TestEngine_NoContactsOnFile(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	res, err := f.engine.SubmitMessage(ctx, c.ID, "我想自杀", models.SenderRequester)
	require.NoError(t, err)
	assert.Zero(t, f.notifier.count())

	var outcome *string
	for _, iv := range res.Case.Interventions {
		if iv.Type == models.InterventionNotifyContact {
			outcome = iv.Outcome
		}
	}
	require.NotNil(t, outcome)
	assert.Equal(t, "no contacts on file", *outcome)
}

func TestEngine_FailedSaveLeavesCaseUnchanged(t *testing.T) {
	fs := &failingStore{MemoryStore: store.NewMemoryStore()}
	f := newEngineFixture(t, fs)
	ctx := context.Background()
	c := f.newCase(t, mother)

	fs.saveErr = errors.New("disk full")
	_, err := f.engine.SubmitMessage(ctx, c.ID, "我想自杀", models.SenderRequester)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidInput)

	fs.saveErr = nil
	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
	assert.Empty(t, got.Interventions)
	assert.False(t, got.EmergencyTriggered())
	assert.Empty(t, got.AggregateRiskLevel)
}

func TestEngine_ConcurrentSubmits(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t, mother)
	other := f.newCase(t)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitMessage(ctx, c.ID, "我想死", models.SenderRequester)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.engine.SubmitMessage(ctx, other.ID, "有点难过", models.SenderRequester)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, n)
	assert.Equal(t, 1, f.notifier.count(), "emergency triggers once")
	assert.Equal(t, 1, countInterventions(got, models.InterventionHumanHandoff))

	got, err = f.engine.GetCase(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, n)
	assert.Equal(t, models.RiskLow, got.AggregateRiskLevel)
}

func TestEngine_ListingAndDistribution(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	a := f.newCase(t)
	b := f.newCase(t)

	_, err := f.engine.SubmitMessage(ctx, a.ID, "我想死", models.SenderRequester)
	require.NoError(t, err)
	_, err = f.engine.SubmitMessage(ctx, b.ID, "有点难过", models.SenderRequester)
	require.NoError(t, err)

	rows, err := f.engine.ListCases(ctx, models.CaseFilter{EmergencyOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, a.ID, rows[0].ID)

	_, err = f.engine.ListCases(ctx, models.CaseFilter{MinRisk: "extreme"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.engine.ListCases(ctx, models.CaseFilter{Status: "paused"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	dist, err := f.engine.RiskDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.RiskDistribution{
		{Level: models.RiskHigh, Count: 1},
		{Level: models.RiskLow, Count: 1},
	}, dist)
}

func TestEngine_AddContact(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()
	c := f.newCase(t)

	_, err := f.engine.AddContact(ctx, c.ID, models.ContactRequest{Name: "Li"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	contact, err := f.engine.AddContact(ctx, c.ID, mother)
	require.NoError(t, err)
	assert.Equal(t, "mother", contact.Relation)

	got, err := f.engine.GetCase(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Contacts, 1)
	assert.Equal(t, contact.ID, got.Contacts[0].ID)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindcare/triage-server/internal/models"
)

// DB is the subset of *pgxpool.Pool the store uses. pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Schema creates the case tables. Children are append-only, keyed by id and
// ordered by position within their case.
const Schema = `
CREATE TABLE IF NOT EXISTS cases (
	id                   UUID PRIMARY KEY,
	subject_ref          TEXT NOT NULL,
	status               TEXT NOT NULL,
	responder_id         TEXT NOT NULL DEFAULT '',
	aggregate_risk_level TEXT NOT NULL DEFAULT '',
	emergency_triggered  BOOLEAN NOT NULL DEFAULT FALSE,
	emergency_reason     TEXT NOT NULL DEFAULT '',
	emergency_message_id UUID,
	emergency_at         TIMESTAMPTZ,
	high_warning_at      TIMESTAMPTZ,
	created_at           TIMESTAMPTZ NOT NULL,
	last_activity_at     TIMESTAMPTZ NOT NULL,
	ended_at             TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS cases_activity_idx ON cases (last_activity_at DESC);

CREATE TABLE IF NOT EXISTS case_messages (
	id          UUID PRIMARY KEY,
	case_id     UUID NOT NULL REFERENCES cases(id),
	position    INT NOT NULL,
	sender      TEXT NOT NULL,
	content     TEXT NOT NULL,
	risk_level  TEXT NOT NULL DEFAULT '',
	risk_source TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, position)
);

CREATE TABLE IF NOT EXISTS case_interventions (
	id          UUID PRIMARY KEY,
	case_id     UUID NOT NULL REFERENCES cases(id),
	position    INT NOT NULL,
	type        TEXT NOT NULL,
	description TEXT NOT NULL,
	outcome     TEXT,
	digest      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (case_id, position)
);

CREATE TABLE IF NOT EXISTS case_contacts (
	id          UUID PRIMARY KEY,
	case_id     UUID NOT NULL REFERENCES cases(id),
	position    INT NOT NULL,
	name        TEXT NOT NULL,
	relation    TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL,
	notified    BOOLEAN NOT NULL DEFAULT FALSE,
	notified_at TIMESTAMPTZ
);
`

// PostgresStore persists cases across four tables.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema. Safe to run on every start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Case) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		INSERT INTO cases (id, subject_ref, status, responder_id, aggregate_risk_level,
			emergency_triggered, emergency_reason, emergency_message_id, emergency_at,
			high_warning_at, created_at, last_activity_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	em := emergencyColumns(c.Emergency)
	if _, err := tx.Exec(ctx, query,
		c.ID, c.SubjectRef, string(c.Status), c.ResponderID, string(c.AggregateRiskLevel),
		em.triggered, em.reason, em.messageID, em.at,
		c.HighWarningAt, c.CreatedAt, c.LastActivityAt, c.EndedAt,
	); err != nil {
		return fmt.Errorf("insert case: %w", err)
	}

	if err := writeChildren(ctx, tx, c, 0, 0); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// storedChildrenQuery counts the messages and interventions already written
// for a case. Both are append-only, so the counts are the first new positions.
const storedChildrenQuery = `SELECT (SELECT COUNT(*) FROM case_messages WHERE case_id = $1), (SELECT COUNT(*) FROM case_interventions WHERE case_id = $1)`

func (s *PostgresStore) Save(ctx context.Context, c *models.Case) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// emergency_triggered is OR-ed so the flag cannot be cleared by a stale writer
	query := `
		UPDATE cases SET
			status = $2,
			responder_id = $3,
			aggregate_risk_level = $4,
			emergency_triggered = emergency_triggered OR $5,
			emergency_reason = $6,
			emergency_message_id = $7,
			emergency_at = $8,
			high_warning_at = $9,
			last_activity_at = $10,
			ended_at = $11
		WHERE id = $1
	`
	em := emergencyColumns(c.Emergency)
	tag, err := tx.Exec(ctx, query,
		c.ID, string(c.Status), c.ResponderID, string(c.AggregateRiskLevel),
		em.triggered, em.reason, em.messageID, em.at,
		c.HighWarningAt, c.LastActivityAt, c.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	var storedMessages, storedInterventions int
	if err := tx.QueryRow(ctx, storedChildrenQuery, c.ID).Scan(&storedMessages, &storedInterventions); err != nil {
		return fmt.Errorf("count stored children: %w", err)
	}
	if err := writeChildren(ctx, tx, c, storedMessages, storedInterventions); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type emergencyRow struct {
	triggered bool
	reason    string
	messageID *uuid.UUID
	at        *time.Time
}

func emergencyColumns(e *models.Emergency) emergencyRow {
	if e == nil {
		return emergencyRow{}
	}
	id, at := e.MessageID, e.Timestamp
	return emergencyRow{triggered: e.Triggered, reason: e.Reason, messageID: &id, at: &at}
}

// writeChildren inserts messages and interventions from the given positions
// onward and upserts contacts. Contact notification only ever moves to true.
func writeChildren(ctx context.Context, tx pgx.Tx, c *models.Case, fromMessage, fromIntervention int) error {
	for i := fromMessage; i < len(c.Messages); i++ {
		m := c.Messages[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO case_messages (id, case_id, position, sender, content, risk_level, risk_source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			m.ID, c.ID, i, string(m.Sender), m.Content, string(m.RiskLevel), string(m.RiskSource), m.Timestamp,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	for i := fromIntervention; i < len(c.Interventions); i++ {
		iv := c.Interventions[i]
		if _, err := tx.Exec(ctx, `
			INSERT INTO case_interventions (id, case_id, position, type, description, outcome, digest, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			iv.ID, c.ID, i, string(iv.Type), iv.Description, iv.Outcome, iv.Digest(c.ID), iv.Timestamp,
		); err != nil {
			return fmt.Errorf("insert intervention: %w", err)
		}
	}

	for i, ct := range c.Contacts {
		if _, err := tx.Exec(ctx, `
			INSERT INTO case_contacts (id, case_id, position, name, relation, phone, notified, notified_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				notified = case_contacts.notified OR EXCLUDED.notified,
				notified_at = COALESCE(case_contacts.notified_at, EXCLUDED.notified_at)`,
			ct.ID, c.ID, i, ct.Name, ct.Relation, ct.Phone, ct.Notified, ct.NotifiedAt,
		); err != nil {
			return fmt.Errorf("upsert contact: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	query := `
		SELECT id, subject_ref, status, responder_id, aggregate_risk_level,
			emergency_triggered, emergency_reason, emergency_message_id, emergency_at,
			high_warning_at, created_at, last_activity_at, ended_at
		FROM cases WHERE id = $1
	`
	var (
		c             models.Case
		status, level string
		em            emergencyRow
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.SubjectRef, &status, &c.ResponderID, &level,
		&em.triggered, &em.reason, &em.messageID, &em.at,
		&c.HighWarningAt, &c.CreatedAt, &c.LastActivityAt, &c.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select case: %w", err)
	}
	c.Status = models.CaseStatus(status)
	c.AggregateRiskLevel = models.RiskLevel(level)
	if em.triggered || em.at != nil {
		c.Emergency = &models.Emergency{Triggered: em.triggered, Reason: em.reason}
		if em.messageID != nil {
			c.Emergency.MessageID = *em.messageID
		}
		if em.at != nil {
			c.Emergency.Timestamp = *em.at
		}
	}

	if c.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	if c.Interventions, err = s.interventions(ctx, id); err != nil {
		return nil, err
	}
	if c.Contacts, err = s.contacts(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) messages(ctx context.Context, caseID uuid.UUID) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender, content, risk_level, risk_source, created_at
		FROM case_messages WHERE case_id = $1 ORDER BY position`, caseID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		var (
			m                     models.Message
			sender, level, source string
		)
		if err := rows.Scan(&m.ID, &sender, &m.Content, &level, &source, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sender = models.Sender(sender)
		m.RiskLevel = models.RiskLevel(level)
		m.RiskSource = models.RiskSource(source)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) interventions(ctx context.Context, caseID uuid.UUID) ([]models.Intervention, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, type, description, outcome, created_at
		FROM case_interventions WHERE case_id = $1 ORDER BY position`, caseID)
	if err != nil {
		return nil, fmt.Errorf("select interventions: %w", err)
	}
	defer rows.Close()

	out := []models.Intervention{}
	for rows.Next() {
		var (
			iv  models.Intervention
			typ string
		)
		if err := rows.Scan(&iv.ID, &typ, &iv.Description, &iv.Outcome, &iv.Timestamp); err != nil {
			return nil, fmt.Errorf("scan intervention: %w", err)
		}
		iv.Type = models.InterventionType(typ)
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) contacts(ctx context.Context, caseID uuid.UUID) ([]models.EmergencyContact, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, relation, phone, notified, notified_at
		FROM case_contacts WHERE case_id = $1 ORDER BY position`, caseID)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	out := []models.EmergencyContact{}
	for rows.Next() {
		var ct models.EmergencyContact
		if err := rows.Scan(&ct.ID, &ct.Name, &ct.Relation, &ct.Phone, &ct.Notified, &ct.NotifiedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (s *PostgresStore) List(ctx context.Context, filter models.CaseFilter) ([]models.CaseSummary, error) {
	query := `
		SELECT c.id, c.status, c.responder_id, c.aggregate_risk_level, c.emergency_triggered,
			(SELECT COUNT(*) FROM case_messages m WHERE m.case_id = c.id) AS message_count,
			c.created_at, c.last_activity_at
		FROM cases c
		WHERE ($1 = '' OR c.status = $1)
			AND ($2 = FALSE OR c.emergency_triggered)
		ORDER BY c.last_activity_at DESC
	`
	rows, err := s.db.Query(ctx, query, string(filter.Status), filter.EmergencyOnly)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := []models.CaseSummary{}
	for rows.Next() {
		var (
			sum           models.CaseSummary
			status, level string
		)
		if err := rows.Scan(&sum.ID, &status, &sum.ResponderID, &level, &sum.Emergency,
			&sum.MessageCount, &sum.CreatedAt, &sum.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		sum.Status = models.CaseStatus(status)
		sum.AggregateRiskLevel = models.RiskLevel(level)
		// risk ordering lives in Go, not in the column collation
		if filter.Match(sum) {
			out = append(out, sum)
		}
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

// RiskDistribution returns aggregate risk levels for analytics charts
func (s *PostgresStore) RiskDistribution(ctx context.Context) ([]models.RiskDistribution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT aggregate_risk_level, COUNT(*) FROM cases
		GROUP BY aggregate_risk_level`)
	if err != nil {
		return nil, fmt.Errorf("risk distribution: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RiskLevel]int)
	for rows.Next() {
		var (
			level string
			count int
		)
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		counts[models.RiskLevel(level)] += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderCounts(counts), nil
}

func (s *PostgresStore) InterventionDigests(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.digest FROM case_interventions i
		JOIN cases c ON c.id = i.case_id
		ORDER BY c.created_at, c.id, i.position`)
	if err != nil {
		return nil, fmt.Errorf("select digests: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

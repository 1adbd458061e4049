package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mindcare/triage-server/internal/models"
)

const (
	redisCasePrefix = "triage:case:"
	redisCaseIndex  = "triage:cases"
	redisMGetBatch  = 100
)

// RedisStore keeps each case as one JSON document, indexed by creation time.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func caseKey(id uuid.UUID) string { return redisCasePrefix + id.String() }

func (s *RedisStore) Create(ctx context.Context, c *models.Case) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode case: %w", err)
	}
	ok, err := s.client.SetNX(ctx, caseKey(c.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("create case: %w", err)
	}
	if !ok {
		return errors.New("case already exists")
	}
	if err := s.client.ZAdd(ctx, redisCaseIndex, redis.Z{
		Score:  float64(c.CreatedAt.UnixNano()),
		Member: c.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("index case: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	raw, err := s.client.Get(ctx, caseKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	var c models.Case
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode case %s: %w", id, err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, c *models.Case) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode case: %w", err)
	}
	ok, err := s.client.SetXX(ctx, caseKey(c.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("save case: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, filter models.CaseFilter) ([]models.CaseSummary, error) {
	cases, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.CaseSummary, 0, len(cases))
	for _, c := range cases {
		if sum := c.Summary(); filter.Match(sum) {
			out = append(out, sum)
		}
	}
	return sortAndLimit(out, filter.Limit), nil
}

func (s *RedisStore) RiskDistribution(ctx context.Context) ([]models.RiskDistribution, error) {
	cases, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	levels := make([]models.RiskLevel, 0, len(cases))
	for _, c := range cases {
		levels = append(levels, c.AggregateRiskLevel)
	}
	return distribution(levels), nil
}

func (s *RedisStore) InterventionDigests(ctx context.Context) ([]string, error) {
	cases, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return digests(cases), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// all loads every indexed case in creation order.
func (s *RedisStore) all(ctx context.Context) ([]*models.Case, error) {
	ids, err := s.client.ZRange(ctx, redisCaseIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list case index: %w", err)
	}

	cases := make([]*models.Case, 0, len(ids))
	for start := 0; start < len(ids); start += redisMGetBatch {
		end := min(start+redisMGetBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, redisCasePrefix+id)
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("load cases: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				// index entry without a document
				continue
			}
			var c models.Case
			if err := json.Unmarshal([]byte(str), &c); err != nil {
				return nil, fmt.Errorf("decode %s: %w", keys[i], err)
			}
			cases = append(cases, &c)
		}
	}
	return cases, nil
}

// Package redis persists alerts and run records in Redis.
//
// Layout under the key prefix:
//
//	<prefix>:alert:<id>   JSON alert document
//	<prefix>:active       set of active alert IDs
//	<prefix>:resolved     zset of resolved alert IDs scored by resolvedAt
//	<prefix>:runs         capped list of JSON run records, newest first
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"healthwatch/internal/logger"
	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

const maxTxRetries = 3

// Config configures Redis access for alert persistence.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	MaxRuns   int64
}

// Store is a Redis-backed pipeline.AlertStore.
type Store struct {
	client  *redis.Client
	prefix  string
	maxRuns int64
	now     func() time.Time
}

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "healthwatch"
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 500
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis alert store: %w", err)
	}

	return &Store{
		client:  client,
		prefix:  strings.TrimSpace(cfg.KeyPrefix),
		maxRuns: cfg.MaxRuns,
		now:     time.Now,
	}, nil
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// UpsertAlert implements pipeline.AlertStore. The read-modify-write runs
// under WATCH so concurrent writers of one alert never interleave.
func (s *Store) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	key := s.alertKey(alert.ExternalID)
	var created bool

	txf := func(tx *redis.Tx) error {
		created = false
		next := alert.Clone()
		next.UpdatedAt = s.now().UTC()
		next.ResolvedAt = nil
		next.ResolutionSummary = nil

		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			created = true
		case err != nil:
			return err
		default:
			var prev models.Alert
			if err := json.Unmarshal(raw, &prev); err != nil {
				return fmt.Errorf("decode stored alert: %w", err)
			}
			next.StartTime = prev.StartTime
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.activeKey(), alert.ExternalID)
			pipe.ZRem(ctx, s.resolvedKey(), alert.ExternalID)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return false, fmt.Errorf("upsert alert %s: %w", alert.ExternalID, err)
	}
	return created, nil
}

// MarkResolved implements pipeline.AlertStore.
func (s *Store) MarkResolved(ctx context.Context, externalID string, resolvedAt time.Time, summary string) error {
	key := s.alertKey(externalID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return pipeline.ErrAlertNotFound
		}
		if err != nil {
			return err
		}
		var a models.Alert
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("decode stored alert: %w", err)
		}
		at := resolvedAt.UTC()
		a.Status = models.StatusResolved
		a.ResolvedAt = &at
		a.ResolutionSummary = &summary
		a.UpdatedAt = at

		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SRem(ctx, s.activeKey(), externalID)
			pipe.ZAdd(ctx, s.resolvedKey(), redis.Z{Score: float64(at.Unix()), Member: externalID})
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		if errors.Is(err, pipeline.ErrAlertNotFound) {
			return err
		}
		return fmt.Errorf("resolve alert %s: %w", externalID, err)
	}
	return nil
}

// ListActiveAlerts implements pipeline.AlertStore.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read active alert ids: %w", err)
	}
	alerts, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByStartDesc(alerts)
	return alerts, nil
}

// ListResolvedAlerts implements pipeline.AlertStore.
func (s *Store) ListResolvedAlerts(ctx context.Context, sinceDays int) ([]models.Alert, error) {
	cutoff := s.now().AddDate(0, 0, -sinceDays)
	ids, err := s.client.ZRevRangeByScore(ctx, s.resolvedKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read resolved alert ids: %w", err)
	}
	return s.load(ctx, ids)
}

// SearchAlerts implements pipeline.AlertStore.
func (s *Store) SearchAlerts(ctx context.Context, query models.AlertQuery) ([]models.Alert, error) {
	active, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("read active alert ids: %w", err)
	}
	resolved, err := s.client.ZRange(ctx, s.resolvedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read resolved alert ids: %w", err)
	}
	all, err := s.load(ctx, append(active, resolved...))
	if err != nil {
		return nil, err
	}

	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if query.Matches(a) {
			out = append(out, a)
		}
	}
	sortByStartDesc(out)
	if limit := query.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordRun implements pipeline.AlertStore.
func (s *Store) RecordRun(ctx context.Context, run models.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.runsKey(), data)
	pipe.LTrim(ctx, s.runsKey(), 0, s.maxRuns-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun implements pipeline.AlertStore.
func (s *Store) LastRun(ctx context.Context) (*models.RunRecord, error) {
	raw, err := s.client.LIndex(ctx, s.runsKey(), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	var run models.RunRecord
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("decode last run: %w", err)
	}
	return &run, nil
}

// Close closes Redis resources.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, key string) error {
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logger.Debugf("Redis transaction on %s conflicted, retrying", key)
	}
	return err
}

func (s *Store) load(ctx context.Context, ids []string) ([]models.Alert, error) {
	if len(ids) == 0 {
		return []models.Alert{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.alertKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}

	out := make([]models.Alert, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var a models.Alert
		if err := json.Unmarshal([]byte(str), &a); err != nil {
			logger.Warnf("Skipping undecodable alert %s: %v", ids[i], err)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) alertKey(id string) string {
	return s.prefix + ":alert:" + id
}

func (s *Store) activeKey() string {
	return s.prefix + ":active"
}

func (s *Store) resolvedKey() string {
	return s.prefix + ":resolved"
}

func (s *Store) runsKey() string {
	return s.prefix + ":runs"
}

func sortByStartDesc(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].StartTime.Equal(alerts[j].StartTime) {
			return alerts[i].StartTime.After(alerts[j].StartTime)
		}
		return alerts[i].ExternalID < alerts[j].ExternalID
	})
}

var _ pipeline.AlertStore = (*Store)(nil)

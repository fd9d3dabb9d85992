// Package postgres persists alerts and run records with gorm on PostgreSQL.
package postgres

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

// Config configures the PostgreSQL connection.
type Config struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// StringList is a jsonb-encoded []string column.
type StringList []string

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source %T", value)
	}
	return json.Unmarshal(raw, (*[]string)(l))
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// AlertRow is the service_alerts table.
type AlertRow struct {
	ExternalID        string     `gorm:"primaryKey;column:external_id;size:255"`
	ServiceName       string     `gorm:"index;not null;size:32"`
	Title             string     `gorm:"type:text;not null"`
	Impact            string     `gorm:"type:text"`
	Severity          string     `gorm:"size:16;not null"`
	Status            string     `gorm:"index;size:32;not null"`
	Region            string     `gorm:"size:100"`
	AffectedServices  StringList `gorm:"type:jsonb;default:'[]'"`
	SourceAPI         string     `gorm:"column:source_api;size:100"`
	StartTime         time.Time  `gorm:"index;not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
	ResolvedAt        *time.Time `gorm:"index"`
	ResolutionSummary *string    `gorm:"type:text"`
	RawPayload        []byte     `gorm:"type:jsonb"`
}

func (AlertRow) TableName() string {
	return "service_alerts"
}

// RunRow is the monitoring_runs table.
type RunRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	RunAt          time.Time `gorm:"index;not null"`
	DurationMs     int64
	AlertsFound    int
	AlertsUpdated  int
	AlertsResolved int
	Errors         StringList `gorm:"type:jsonb;default:'[]'"`
	Status         string     `gorm:"size:16;not null"`
	ServiceTimings []byte     `gorm:"type:jsonb"`
}

func (RunRow) TableName() string {
	return "monitoring_runs"
}

// Store is a gorm-backed pipeline.AlertStore.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to PostgreSQL and optionally migrates the schema.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres store requires a dsn")
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := New(db)
	if cfg.AutoMigrate {
		if err := s.Migrate(); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&AlertRow{}, &RunRow{}); err != nil {
		return fmt.Errorf("migrate postgres schema: %w", err)
	}
	return nil
}

// UpsertAlert implements pipeline.AlertStore.
func (s *Store) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	row := toAlertRow(alert)
	row.UpdatedAt = s.now().UTC()
	row.ResolvedAt = nil
	row.ResolutionSummary = nil

	var created bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&AlertRow{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_id = ?", row.ExternalID).
			Limit(1).
			Pluck("external_id", &existing).Error; err != nil {
			return err
		}
		created = len(existing) == 0

		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"service_name":       row.ServiceName,
				"title":              row.Title,
				"impact":             row.Impact,
				"severity":           row.Severity,
				"status":             row.Status,
				"region":             row.Region,
				"affected_services":  row.AffectedServices,
				"source_api":         row.SourceAPI,
				"updated_at":         row.UpdatedAt,
				"resolved_at":        nil,
				"resolution_summary": nil,
				"raw_payload":        row.RawPayload,
			}),
		}).Create(&row).Error
	})
	if err != nil {
		return false, fmt.Errorf("upsert alert %s: %w", alert.ExternalID, err)
	}
	return created, nil
}

// MarkResolved implements pipeline.AlertStore.
func (s *Store) MarkResolved(ctx context.Context, externalID string, resolvedAt time.Time, summary string) error {
	at := resolvedAt.UTC()
	res := s.db.WithContext(ctx).Model(&AlertRow{}).
		Where("external_id = ?", externalID).
		Updates(map[string]interface{}{
			"status":             string(models.StatusResolved),
			"resolved_at":        at,
			"resolution_summary": summary,
			"updated_at":         at,
		})
	if res.Error != nil {
		return fmt.Errorf("resolve alert %s: %w", externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return pipeline.ErrAlertNotFound
	}
	return nil
}

// ListActiveAlerts implements pipeline.AlertStore.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	var rows []AlertRow
	err := s.db.WithContext(ctx).
		Where("status <> ?", string(models.StatusResolved)).
		Order("start_time DESC").Order("external_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return fromAlertRows(rows), nil
}

// ListResolvedAlerts implements pipeline.AlertStore.
func (s *Store) ListResolvedAlerts(ctx context.Context, sinceDays int) ([]models.Alert, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -sinceDays)
	var rows []AlertRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND resolved_at >= ?", string(models.StatusResolved), cutoff).
		Order("resolved_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list resolved alerts: %w", err)
	}
	return fromAlertRows(rows), nil
}

// SearchAlerts implements pipeline.AlertStore.
func (s *Store) SearchAlerts(ctx context.Context, query models.AlertQuery) ([]models.Alert, error) {
	q := s.db.WithContext(ctx).Model(&AlertRow{})
	if term := strings.TrimSpace(query.Term); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(impact) LIKE ? OR LOWER(affected_services::text) LIKE ?", like, like, like)
	}
	if query.Start != nil {
		q = q.Where("start_time >= ?", query.Start.UTC())
	}
	if query.End != nil {
		q = q.Where("start_time <= ?", query.End.UTC())
	}

	var rows []AlertRow
	if err := q.Order("start_time DESC").Limit(query.EffectiveLimit()).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search alerts: %w", err)
	}
	return fromAlertRows(rows), nil
}

// RecordRun implements pipeline.AlertStore.
func (s *Store) RecordRun(ctx context.Context, run models.RunRecord) error {
	row, err := toRunRow(run)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun implements pipeline.AlertStore.
func (s *Store) LastRun(ctx context.Context) (*models.RunRecord, error) {
	var row RunRow
	err := s.db.WithContext(ctx).Order("run_at DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	run, err := fromRunRow(row)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toAlertRow(a models.Alert) AlertRow {
	return AlertRow{
		ExternalID:        a.ExternalID,
		ServiceName:       string(a.ServiceName),
		Title:             a.Title,
		Impact:            a.Impact,
		Severity:          string(a.Severity),
		Status:            string(a.Status),
		Region:            a.Region,
		AffectedServices:  StringList(append([]string{}, a.AffectedServices...)),
		SourceAPI:         a.SourceAPI,
		StartTime:         a.StartTime.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
		ResolvedAt:        a.ResolvedAt,
		ResolutionSummary: a.ResolutionSummary,
		RawPayload:        []byte(a.RawPayload),
	}
}

func fromAlertRow(r AlertRow) models.Alert {
	a := models.Alert{
		ExternalID:        r.ExternalID,
		ServiceName:       models.ServiceName(r.ServiceName),
		Title:             r.Title,
		Impact:            r.Impact,
		Severity:          models.Severity(r.Severity),
		Status:            models.Status(r.Status),
		Region:            r.Region,
		AffectedServices:  []string(r.AffectedServices),
		SourceAPI:         r.SourceAPI,
		StartTime:         r.StartTime.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
		ResolutionSummary: r.ResolutionSummary,
	}
	if a.AffectedServices == nil {
		a.AffectedServices = []string{}
	}
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.UTC()
		a.ResolvedAt = &t
	}
	if len(r.RawPayload) > 0 {
		a.RawPayload = json.RawMessage(r.RawPayload)
	}
	return a
}

func fromAlertRows(rows []AlertRow) []models.Alert {
	out := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromAlertRow(r))
	}
	return out
}

func toRunRow(run models.RunRecord) (RunRow, error) {
	timings, err := json.Marshal(run.ServiceTimings)
	if err != nil {
		return RunRow{}, fmt.Errorf("encode service timings: %w", err)
	}
	return RunRow{
		ID:             run.ID,
		RunAt:          run.RunAt.UTC(),
		DurationMs:     run.DurationMs,
		AlertsFound:    run.AlertsFound,
		AlertsUpdated:  run.AlertsUpdated,
		AlertsResolved: run.AlertsResolved,
		Errors:         StringList(append([]string{}, run.Errors...)),
		Status:         string(run.Status),
		ServiceTimings: timings,
	}, nil
}

func fromRunRow(r RunRow) (models.RunRecord, error) {
	run := models.RunRecord{
		ID:             r.ID,
		RunAt:          r.RunAt.UTC(),
		DurationMs:     r.DurationMs,
		AlertsFound:    r.AlertsFound,
		AlertsUpdated:  r.AlertsUpdated,
		AlertsResolved: r.AlertsResolved,
		Errors:         []string(r.Errors),
		Status:         models.RunStatus(r.Status),
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	if len(r.ServiceTimings) > 0 && string(r.ServiceTimings) != "null" {
		if err := json.Unmarshal(r.ServiceTimings, &run.ServiceTimings); err != nil {
			return run, fmt.Errorf("decode service timings: %w", err)
		}
	}
	return run, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ pipeline.AlertStore = (*Store)(nil)

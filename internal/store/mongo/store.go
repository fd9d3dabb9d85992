// Package mongo persists alerts and run records in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

const (
	alertsCollection = "service_alerts"
	runsCollection   = "monitoring_runs"
)

// Config configures the MongoDB connection.
type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type alertDoc struct {
	ExternalID        string     `bson:"_id"`
	ServiceName       string     `bson:"service_name"`
	Title             string     `bson:"title"`
	Impact            string     `bson:"impact"`
	Severity          string     `bson:"severity"`
	Status            string     `bson:"status"`
	Region            string     `bson:"region"`
	AffectedServices  []string   `bson:"affected_services"`
	SourceAPI         string     `bson:"source_api"`
	StartTime         time.Time  `bson:"start_time"`
	UpdatedAt         time.Time  `bson:"updated_at"`
	ResolvedAt        *time.Time `bson:"resolved_at,omitempty"`
	ResolutionSummary *string    `bson:"resolution_summary,omitempty"`
	RawPayload        string     `bson:"raw_payload,omitempty"`
}

type runDoc struct {
	ID             string                          `bson:"_id"`
	RunAt          time.Time                       `bson:"run_at"`
	DurationMs     int64                           `bson:"duration_ms"`
	AlertsFound    int                             `bson:"alerts_found"`
	AlertsUpdated  int                             `bson:"alerts_updated"`
	AlertsResolved int                             `bson:"alerts_resolved"`
	Errors         []string                        `bson:"errors"`
	Status         string                          `bson:"status"`
	ServiceTimings map[string]models.ServiceTiming `bson:"service_timings,omitempty"`
}

// Store is a MongoDB-backed pipeline.AlertStore.
type Store struct {
	client *mongo.Client
	alerts *mongo.Collection
	runs   *mongo.Collection
	now    func() time.Time
}

// Open connects to MongoDB and ensures the indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("mongo store requires a uri")
	}
	if cfg.Database == "" {
		cfg.Database = "healthwatch"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		alerts: db.Collection(alertsCollection),
		runs:   db.Collection(runsCollection),
		now:    time.Now,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.alerts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "start_time", Value: -1}}},
		{Keys: bson.D{{Key: "resolved_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create alert indexes: %w", err)
	}
	_, err = s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "run_at", Value: -1}}})
	if err != nil {
		return fmt.Errorf("create run indexes: %w", err)
	}
	return nil
}

// UpsertAlert implements pipeline.AlertStore.
func (s *Store) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	doc := toAlertDoc(alert)
	update := bson.M{
		"$setOnInsert": bson.M{"start_time": doc.StartTime},
		"$set": bson.M{
			"service_name":      doc.ServiceName,
			"title":             doc.Title,
			"impact":            doc.Impact,
			"severity":          doc.Severity,
			"status":            doc.Status,
			"region":            doc.Region,
			"affected_services": doc.AffectedServices,
			"source_api":        doc.SourceAPI,
			"updated_at":        s.now().UTC(),
			"raw_payload":       doc.RawPayload,
		},
		"$unset": bson.M{"resolved_at": "", "resolution_summary": ""},
	}
	res, err := s.alerts.UpdateOne(ctx, bson.M{"_id": doc.ExternalID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upsert alert %s: %w", alert.ExternalID, err)
	}
	return res.UpsertedCount > 0, nil
}

// MarkResolved implements pipeline.AlertStore.
func (s *Store) MarkResolved(ctx context.Context, externalID string, resolvedAt time.Time, summary string) error {
	at := resolvedAt.UTC()
	res, err := s.alerts.UpdateOne(ctx, bson.M{"_id": externalID}, bson.M{"$set": bson.M{
		"status":             string(models.StatusResolved),
		"resolved_at":        at,
		"resolution_summary": summary,
		"updated_at":         at,
	}})
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", externalID, err)
	}
	if res.MatchedCount == 0 {
		return pipeline.ErrAlertNotFound
	}
	return nil
}

// ListActiveAlerts implements pipeline.AlertStore.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: -1}, {Key: "_id", Value: 1}})
	return s.find(ctx, bson.M{"status": bson.M{"$ne": string(models.StatusResolved)}}, opts)
}

// ListResolvedAlerts implements pipeline.AlertStore.
func (s *Store) ListResolvedAlerts(ctx context.Context, sinceDays int) ([]models.Alert, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -sinceDays)
	filter := bson.M{
		"status":      string(models.StatusResolved),
		"resolved_at": bson.M{"$gte": cutoff},
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "resolved_at", Value: -1}}))
}

// SearchAlerts implements pipeline.AlertStore.
func (s *Store) SearchAlerts(ctx context.Context, query models.AlertQuery) ([]models.Alert, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(query.EffectiveLimit()))
	return s.find(ctx, searchFilter(query), opts)
}

// RecordRun implements pipeline.AlertStore.
func (s *Store) RecordRun(ctx context.Context, run models.RunRecord) error {
	if _, err := s.runs.InsertOne(ctx, toRunDoc(run)); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun implements pipeline.AlertStore.
func (s *Store) LastRun(ctx context.Context) (*models.RunRecord, error) {
	var doc runDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "run_at", Value: -1}})
	err := s.runs.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	run := fromRunDoc(doc)
	return &run, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Alert, error) {
	cursor, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find alerts: %w", err)
	}
	var docs []alertDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	out := make([]models.Alert, 0, len(docs))
	for _, d := range docs {
		out = append(out, fromAlertDoc(d))
	}
	return out, nil
}

func searchFilter(query models.AlertQuery) bson.M {
	filter := bson.M{}
	if term := strings.TrimSpace(query.Term); term != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"}
		filter["$or"] = bson.A{
			bson.M{"title": pattern},
			bson.M{"impact": pattern},
			bson.M{"affected_services": pattern},
		}
	}
	if query.Start != nil || query.End != nil {
		bounds := bson.M{}
		if query.Start != nil {
			bounds["$gte"] = query.Start.UTC()
		}
		if query.End != nil {
			bounds["$lte"] = query.End.UTC()
		}
		filter["start_time"] = bounds
	}
	return filter
}

func toAlertDoc(a models.Alert) alertDoc {
	services := a.AffectedServices
	if services == nil {
		services = []string{}
	}
	return alertDoc{
		ExternalID:        a.ExternalID,
		ServiceName:       string(a.ServiceName),
		Title:             a.Title,
		Impact:            a.Impact,
		Severity:          string(a.Severity),
		Status:            string(a.Status),
		Region:            a.Region,
		AffectedServices:  services,
		SourceAPI:         a.SourceAPI,
		StartTime:         a.StartTime.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
		ResolvedAt:        a.ResolvedAt,
		ResolutionSummary: a.ResolutionSummary,
		RawPayload:        string(a.RawPayload),
	}
}

func fromAlertDoc(d alertDoc) models.Alert {
	a := models.Alert{
		ExternalID:        d.ExternalID,
		ServiceName:       models.ServiceName(d.ServiceName),
		Title:             d.Title,
		Impact:            d.Impact,
		Severity:          models.Severity(d.Severity),
		Status:            models.Status(d.Status),
		Region:            d.Region,
		AffectedServices:  d.AffectedServices,
		SourceAPI:         d.SourceAPI,
		StartTime:         d.StartTime.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
		ResolutionSummary: d.ResolutionSummary,
	}
	if a.AffectedServices == nil {
		a.AffectedServices = []string{}
	}
	if d.ResolvedAt != nil {
		t := d.ResolvedAt.UTC()
		a.ResolvedAt = &t
	}
	if d.RawPayload != "" {
		a.RawPayload = []byte(d.RawPayload)
	}
	return a
}

func toRunDoc(run models.RunRecord) runDoc {
	timings := make(map[string]models.ServiceTiming, len(run.ServiceTimings))
	for svc, t := range run.ServiceTimings {
		timings[string(svc)] = t
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	return runDoc{
		ID:             run.ID,
		RunAt:          run.RunAt.UTC(),
		DurationMs:     run.DurationMs,
		AlertsFound:    run.AlertsFound,
		AlertsUpdated:  run.AlertsUpdated,
		AlertsResolved: run.AlertsResolved,
		Errors:         errs,
		Status:         string(run.Status),
		ServiceTimings: timings,
	}
}

func fromRunDoc(d runDoc) models.RunRecord {
	run := models.RunRecord{
		ID:             d.ID,
		RunAt:          d.RunAt.UTC(),
		DurationMs:     d.DurationMs,
		AlertsFound:    d.AlertsFound,
		AlertsUpdated:  d.AlertsUpdated,
		AlertsResolved: d.AlertsResolved,
		Errors:         d.Errors,
		Status:         models.RunStatus(d.Status),
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	if len(d.ServiceTimings) > 0 {
		run.ServiceTimings = make(map[models.ServiceName]models.ServiceTiming, len(d.ServiceTimings))
		for svc, t := range d.ServiceTimings {
			run.ServiceTimings[models.ServiceName(svc)] = t
		}
	}
	return run
}

var _ pipeline.AlertStore = (*Store)(nil)

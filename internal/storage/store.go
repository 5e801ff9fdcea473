package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveDetection(ctx context.Context, det model.Detection) error
	SaveSession(ctx context.Context, s model.Session) error
	RecentDetections(ctx context.Context, limit int) ([]model.Detection, error)
	RecentSessions(ctx context.Context, limit int) ([]model.Session, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// statements holds the dialect-specific SQL for one driver.
type statements struct {
	schema           []string
	insertDetection  string
	insertSession    string
	insertResult     string
	selectDetections string
	selectSessions   string
}

type baseStore struct {
	db   *sql.DB
	stmt statements
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.stmt.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) SaveDetection(ctx context.Context, det model.Detection) error {
	if b.db == nil {
		return nil
	}
	c := det.Classification
	_, err := b.db.ExecContext(ctx, b.stmt.insertDetection,
		det.ID,
		det.Timestamp.UTC(),
		string(c.Type),
		string(c.Severity),
		c.Confidence,
		c.Rule,
		c.Value,
		encodeJSON(det.Sample),
	)
	return err
}

// SaveSession writes the session row and one row per dispatch attempt in a
// single transaction.
func (b *baseStore) SaveSession(ctx context.Context, s model.Session) error {
	if b.db == nil || s.ID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var lat, lng sql.NullFloat64
	if s.Location != nil {
		lat = sql.NullFloat64{Float64: s.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: s.Location.Longitude, Valid: true}
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.stmt.insertSession,
		s.ID,
		s.UserID,
		s.UserName,
		string(s.Status),
		lat,
		lng,
		s.StartedAt.UTC(),
		s.FinishedAt.UTC(),
		encodeJSON(s.Results),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	if len(s.Results) > 0 {
		stmt, err := tx.PrepareContext(ctx, b.stmt.insertResult)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		defer stmt.Close()
		for _, r := range s.Results {
			if _, err := stmt.ExecContext(ctx,
				s.ID,
				r.At.UTC(),
				r.Contact,
				r.Phone,
				string(r.Channel),
				r.Success,
				r.Automatic,
				r.Method,
				r.Error,
			); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (b *baseStore) RecentDetections(ctx context.Context, limit int) ([]model.Detection, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.stmt.selectDetections, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Detection, 0)
	for rows.Next() {
		var (
			det    model.Detection
			ts     dbTime
			kind   string
			sev    string
			sample string
		)
		if err := rows.Scan(&det.ID, &ts, &kind, &sev, &det.Classification.Confidence,
			&det.Classification.Rule, &det.Classification.Value, &sample); err != nil {
			return nil, err
		}
		det.Timestamp = ts.Time
		det.Classification.Type = model.AccidentType(kind)
		det.Classification.Severity = model.Severity(sev)
		det.Classification.IsAccident = det.Classification.Type != model.AccidentNone
		_ = json.Unmarshal([]byte(sample), &det.Sample)
		out = append(out, det)
	}
	return out, rows.Err()
}

func (b *baseStore) RecentSessions(ctx context.Context, limit int) ([]model.Session, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.stmt.selectSessions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Session, 0)
	for rows.Next() {
		var (
			s        model.Session
			status   string
			lat, lng sql.NullFloat64
			started  dbTime
			finished dbTime
			results  string
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.UserName, &status, &lat, &lng, &started, &finished, &results); err != nil {
			return nil, err
		}
		s.Status = model.SequenceStatus(status)
		if lat.Valid && lng.Valid {
			s.Location = &model.Location{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		s.StartedAt = started.Time
		s.FinishedAt = finished.Time
		_ = json.Unmarshal([]byte(results), &s.Results)
		out = append(out, s)
	}
	return out, rows.Err()
}

// dbTime scans timestamps whether the driver returns time.Time or text.
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = x.UTC()
		return nil
	case []byte:
		return t.parse(string(x))
	case string:
		return t.parse(x)
	}
	return fmt.Errorf("unsupported time value %T", v)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}
	return errors.New("unparseable time " + s)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

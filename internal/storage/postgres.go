package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresStatements = statements{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			accident_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			rule TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			sample_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			status TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			results_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
		`CREATE TABLE IF NOT EXISTS dispatch_results (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			contact TEXT NOT NULL,
			phone TEXT NOT NULL,
			channel TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			automatic BOOLEAN NOT NULL,
			method TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_results_session ON dispatch_results(session_id)`,
	},
	insertDetection: `INSERT INTO detections (id, ts, accident_type, severity, confidence, rule, value, sample_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	insertSession: `INSERT INTO sessions (id, user_id, user_name, status, latitude, longitude, started_at, finished_at, results_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, finished_at = EXCLUDED.finished_at, results_json = EXCLUDED.results_json`,
	insertResult: `INSERT INTO dispatch_results (session_id, ts, contact, phone, channel, success, automatic, method, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	selectDetections: `SELECT id, ts, accident_type, severity, confidence, rule, value, sample_json::text
		FROM detections ORDER BY ts DESC LIMIT $1`,
	selectSessions: `SELECT id, user_id, user_name, status, latitude, longitude, started_at, finished_at, results_json::text
		FROM sessions ORDER BY started_at DESC LIMIT $1`,
}

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/prativedak?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresDB(db), nil
}

func newPostgresDB(db *sql.DB) *postgresStore {
	return &postgresStore{baseStore{db: db, stmt: postgresStatements}}
}

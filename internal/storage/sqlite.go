package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteStatements = statements{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			ts TEXT NOT NULL,
			accident_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			confidence REAL NOT NULL,
			rule TEXT NOT NULL,
			value REAL NOT NULL,
			sample_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_name TEXT NOT NULL,
			status TEXT NOT NULL,
			latitude REAL,
			longitude REAL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			results_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
		`CREATE TABLE IF NOT EXISTS dispatch_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			contact TEXT NOT NULL,
			phone TEXT NOT NULL,
			channel TEXT NOT NULL,
			success INTEGER NOT NULL,
			automatic INTEGER NOT NULL,
			method TEXT,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatch_results_session ON dispatch_results(session_id)`,
	},
	insertDetection: `INSERT INTO detections (id, ts, accident_type, severity, confidence, rule, value, sample_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	insertSession: `INSERT OR REPLACE INTO sessions (id, user_id, user_name, status, latitude, longitude, started_at, finished_at, results_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	insertResult: `INSERT INTO dispatch_results (session_id, ts, contact, phone, channel, success, automatic, method, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	selectDetections: `SELECT id, ts, accident_type, severity, confidence, rule, value, sample_json
		FROM detections ORDER BY ts DESC LIMIT ?`,
	selectSessions: `SELECT id, user_id, user_name, status, latitude, longitude, started_at, finished_at, results_json
		FROM sessions ORDER BY started_at DESC LIMIT ?`,
}

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:prativedak.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLiteDB(db), nil
}

func newSQLiteDB(db *sql.DB) *sqliteStore {
	return &sqliteStore{baseStore{db: db, stmt: sqliteStatements}}
}

// Package store persists the delivery log in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"linerelay/internal/domain"
)

// MemoryPath keeps the database inside the process.
const MemoryPath = ":memory:"

// SQLiteStore implements domain.DeliveryLog.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := MemoryPath
	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// One connection: SQLite serializes writers, and an in-memory database
	// lives only as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Seen reports whether an event id was already recorded. Empty ids are never seen.
func (s *SQLiteStore) Seen(ctx context.Context, webhookEventID string) (bool, error) {
	if webhookEventID == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM deliveries WHERE webhook_event_id = ?`, webhookEventID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record appends a row. A second row for an already recorded event id is dropped.
func (s *SQLiteStore) Record(ctx context.Context, rec domain.DeliveryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries
		 (webhook_event_id, delivery_id, sender_id, case_id, outcome, error, replied, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WebhookEventID, rec.DeliveryID, rec.SenderID, rec.CaseID,
		string(rec.Outcome), rec.Error, rec.Replied, rec.CreatedAt.UTC(),
	)
	return err
}

// Recent returns the newest records first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_event_id, delivery_id, sender_id, case_id, outcome, error, replied, created_at
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ByDelivery returns the records written for one webhook delivery, oldest first.
func (s *SQLiteStore) ByDelivery(ctx context.Context, deliveryID string) ([]domain.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, webhook_event_id, delivery_id, sender_id, case_id, outcome, error, replied, created_at
		 FROM deliveries WHERE delivery_id = ? ORDER BY id`, deliveryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Prune deletes records older than maxAge and returns how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE created_at < ?`, time.Now().Add(-maxAge).UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]domain.DeliveryRecord, error) {
	recs := []domain.DeliveryRecord{}
	for rows.Next() {
		var r domain.DeliveryRecord
		var outcome string
		if err := rows.Scan(&r.ID, &r.WebhookEventID, &r.DeliveryID, &r.SenderID, &r.CaseID,
			&outcome, &r.Error, &r.Replied, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Outcome = domain.Outcome(outcome)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

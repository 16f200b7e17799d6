// Package sqlite persists feedback records, their append-only decision
// audit trail, the approved training dataset, and scan analytics.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/detection"
	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/storage"
	"github.com/phishguard/backend/pkg/logger"
)

// ApprovalCounter names the durable counter behind retraining triggers.
const ApprovalCounter = "approvals_since_retrain"

// DatasetSourceFeedback marks approved dataset rows that came through the
// review pipeline.
const DatasetSourceFeedback = "feedback"

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writers anyway; a single connection also keeps
	// in-memory databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", dbPath))

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		label TEXT NOT NULL,
		comment TEXT,
		confidence INTEGER NOT NULL,
		expertise TEXT NOT NULL,
		user_id TEXT,
		validation_score INTEGER NOT NULL,
		flags TEXT NOT NULL,
		status TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		admin_id TEXT,
		admin_comment TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback(status);
	CREATE INDEX IF NOT EXISTS idx_feedback_submitted ON feedback(submitted_at);

	CREATE TABLE IF NOT EXISTS admin_decisions (
		id TEXT PRIMARY KEY,
		feedback_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		admin_id TEXT NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (feedback_id) REFERENCES feedback(id)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_feedback ON admin_decisions(feedback_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_created ON admin_decisions(created_at);

	CREATE TABLE IF NOT EXISTS system_counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS approved_dataset (
		feedback_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		label TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (feedback_id) REFERENCES feedback(id)
	);

	CREATE TABLE IF NOT EXISTS scan_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		domain TEXT NOT NULL,
		final_score REAL NOT NULL,
		classification TEXT NOT NULL,
		ml_available INTEGER NOT NULL,
		reputation_available INTEGER NOT NULL,
		latency_ms REAL NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scan_log_created ON scan_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_scan_log_classification ON scan_log(classification);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	seed := `INSERT OR IGNORE INTO system_counters (name, value) VALUES (?, 0)`
	if _, err := s.db.Exec(seed, ApprovalCounter); err != nil {
		return fmt.Errorf("failed to seed counters: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// CreateFeedback inserts a screened record. When the validator routed it
// straight to auto-approval, the synthesized decision, the dataset row, and
// the approval counter all commit in the same transaction, so a crash can
// never leave an accepted record without its audit entry. Returns whether
// this approval crossed the retraining threshold.
func (s *Store) CreateFeedback(ctx context.Context, rec *feedback.Record, decision *feedback.Decision, retrainThreshold int) (bool, error) {
	flagsJSON, err := json.Marshal(rec.Flags)
	if err != nil {
		return false, fmt.Errorf("failed to encode flags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO feedback (id, url, label, comment, confidence, expertise, user_id,
			validation_score, flags, status, submitted_at, updated_at, admin_id, admin_comment, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		rec.ID,
		rec.URL,
		string(rec.Label),
		rec.Comment,
		rec.Confidence,
		string(rec.Expertise),
		rec.UserID,
		rec.ValidationScore,
		string(flagsJSON),
		string(rec.Status),
		rec.SubmittedAt.UnixNano(),
		rec.UpdatedAt.UnixNano(),
		rec.AdminID,
		rec.AdminComment,
		rec.Version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert feedback: %w", err)
	}

	crossed := false
	if rec.Status.Accepted() {
		if decision == nil {
			return false, fmt.Errorf("accepted feedback %s requires an audit decision", rec.ID)
		}
		crossed, err = s.commitApproval(ctx, tx, rec.ID, rec.URL, string(rec.Label), decision, retrainThreshold)
		if err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("feedback_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int("validation_score", rec.ValidationScore),
	)

	return crossed, nil
}

// TransitionFeedback applies one review decision: the status change, the
// audit entry, and (for approvals) the dataset row plus counter increment
// commit atomically. The update is guarded by the record version; losing a
// race returns storage.ErrConflict with nothing written. On success rec is
// updated in place to the committed state.
func (s *Store) TransitionFeedback(ctx context.Context, rec *feedback.Record, to feedback.Status, decision *feedback.Decision, retrainThreshold int) (bool, error) {
	if !rec.Status.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", storage.ErrIllegalTransition, rec.Status, to)
	}
	if decision == nil {
		return false, fmt.Errorf("transition of %s requires an audit decision", rec.ID)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := `
		UPDATE feedback
		SET status = ?, admin_id = ?, admin_comment = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	res, err := tx.ExecContext(ctx, update,
		string(to),
		decision.AdminID,
		decision.Comment,
		now.UnixNano(),
		rec.ID,
		rec.Version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update feedback status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return false, fmt.Errorf("feedback %s version %d: %w", rec.ID, rec.Version, storage.ErrConflict)
	}

	crossed := false
	if to.Accepted() {
		crossed, err = s.commitApproval(ctx, tx, rec.ID, rec.URL, string(rec.Label), decision, retrainThreshold)
		if err != nil {
			return false, err
		}
	} else {
		if err := insertDecision(ctx, tx, decision); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	rec.Status = to
	rec.AdminID = decision.AdminID
	rec.AdminComment = decision.Comment
	rec.UpdatedAt = now
	rec.Version++

	logger.Info("Feedback transitioned",
		zap.String("feedback_id", rec.ID),
		zap.String("status", string(to)),
		zap.String("admin_id", decision.AdminID),
	)

	return crossed, nil
}

// commitApproval appends the audit entry, adds the record to the training
// dataset, and bumps the approval counter. When the counter reaches the
// threshold it rolls over in the same transaction, so concurrent approvals
// cannot lose increments and each crossing is reported exactly once.
func (s *Store) commitApproval(ctx context.Context, tx *sql.Tx, feedbackID, url, label string, decision *feedback.Decision, retrainThreshold int) (bool, error) {
	if err := insertDecision(ctx, tx, decision); err != nil {
		return false, err
	}

	dataset := `INSERT INTO approved_dataset (feedback_id, url, label, source, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, dataset, feedbackID, url, label, DatasetSourceFeedback, time.Now().UTC().UnixNano()); err != nil {
		return false, fmt.Errorf("failed to insert dataset row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE system_counters SET value = value + 1 WHERE name = ?`, ApprovalCounter); err != nil {
		return false, fmt.Errorf("failed to increment approval counter: %w", err)
	}

	if retrainThreshold <= 0 {
		return false, nil
	}

	var value int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM system_counters WHERE name = ?`, ApprovalCounter).Scan(&value); err != nil {
		return false, fmt.Errorf("failed to read approval counter: %w", err)
	}
	if value < int64(retrainThreshold) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE system_counters SET value = value - ? WHERE name = ?`, retrainThreshold, ApprovalCounter); err != nil {
		return false, fmt.Errorf("failed to reset approval counter: %w", err)
	}
	return true, nil
}

func insertDecision(ctx context.Context, tx *sql.Tx, decision *feedback.Decision) error {
	query := `INSERT INTO admin_decisions (id, feedback_id, decision, admin_id, comment, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := tx.ExecContext(ctx, query,
		decision.ID,
		decision.FeedbackID,
		string(decision.Decision),
		decision.AdminID,
		decision.Comment,
		decision.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *Store) GetFeedback(ctx context.Context, id string) (*feedback.Record, error) {
	query := `
		SELECT id, url, label, comment, confidence, expertise, user_id, validation_score,
			flags, status, submitted_at, updated_at, admin_id, admin_comment, version
		FROM feedback
		WHERE id = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feedback %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return rec, nil
}

// ListFilter narrows ListFeedback. Zero values mean no constraint.
type ListFilter struct {
	Statuses  []feedback.Status
	Flag      feedback.Flag
	Expertise feedback.Expertise
	Limit     int
}

// ListFeedback returns matching records oldest-first, so reviewers work the
// queue in submission order. Flag filtering happens after decode because
// flags live in a JSON column.
func (s *Store) ListFeedback(ctx context.Context, filter ListFilter) ([]feedback.Record, error) {
	query := `
		SELECT id, url, label, comment, confidence, expertise, user_id, validation_score,
			flags, status, submitted_at, updated_at, admin_id, admin_comment, version
		FROM feedback
	`
	args := make([]interface{}, 0, 4)

	where := ""
	if len(filter.Statuses) > 0 {
		where = " WHERE status IN ("
		for i, status := range filter.Statuses {
			if i > 0 {
				where += ", "
			}
			where += "?"
			args = append(args, string(status))
		}
		where += ")"
	}
	if filter.Expertise != "" {
		if where == "" {
			where = " WHERE expertise = ?"
		} else {
			where += " AND expertise = ?"
		}
		args = append(args, string(filter.Expertise))
	}

	query += where + " ORDER BY submitted_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	records := make([]feedback.Record, 0, 32)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback row: %w", err)
		}
		if filter.Flag != "" && !rec.HasFlag(filter.Flag) {
			continue
		}
		records = append(records, *rec)
		if filter.Limit > 0 && len(records) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback rows: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*feedback.Record, error) {
	var rec feedback.Record
	var label, expertise, status, flagsJSON string
	var userID, adminID, adminComment sql.NullString
	var submittedAt, updatedAt int64

	err := row.Scan(
		&rec.ID,
		&rec.URL,
		&label,
		&rec.Comment,
		&rec.Confidence,
		&expertise,
		&userID,
		&rec.ValidationScore,
		&flagsJSON,
		&status,
		&submittedAt,
		&updatedAt,
		&adminID,
		&adminComment,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}

	rec.Label = feedback.Label(label)
	rec.Expertise = feedback.Expertise(expertise)
	rec.Status = feedback.Status(status)
	rec.UserID = userID.String
	rec.AdminID = adminID.String
	rec.AdminComment = adminComment.String
	rec.SubmittedAt = time.Unix(0, submittedAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if err := json.Unmarshal([]byte(flagsJSON), &rec.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode flags for %s: %w", rec.ID, err)
	}

	return &rec, nil
}

// ListDecisions returns the audit trail of one record in decision order.
func (s *Store) ListDecisions(ctx context.Context, feedbackID string) ([]feedback.Decision, error) {
	query := `
		SELECT id, feedback_id, decision, admin_id, comment, created_at
		FROM admin_decisions
		WHERE feedback_id = ?
		ORDER BY created_at ASC
	`
	return s.queryDecisions(ctx, query, feedbackID)
}

// RecentDecisions returns the newest decisions across all records.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]feedback.Decision, error) {
	query := `
		SELECT id, feedback_id, decision, admin_id, comment, created_at
		FROM admin_decisions
		ORDER BY created_at DESC
		LIMIT ?
	`
	return s.queryDecisions(ctx, query, limit)
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]feedback.Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	decisions := make([]feedback.Decision, 0, 16)
	for rows.Next() {
		var d feedback.Decision
		var decisionType string
		var comment sql.NullString
		var createdAt int64

		if err := rows.Scan(&d.ID, &d.FeedbackID, &decisionType, &d.AdminID, &comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}

		d.Decision = feedback.DecisionType(decisionType)
		d.Comment = comment.String
		d.CreatedAt = time.Unix(0, createdAt).UTC()
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decision rows: %w", err)
	}

	return decisions, nil
}

func (s *Store) CountDecisionsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_decisions WHERE created_at >= ?`, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return count, nil
}

func (s *Store) StatusCounts(ctx context.Context) (map[feedback.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM feedback GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[feedback.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[feedback.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}

	return counts, nil
}

// FlagCounts builds the validation flag histogram across all records.
func (s *Store) FlagCounts(ctx context.Context) (map[feedback.Flag]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flags FROM feedback WHERE flags != '[]'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	counts := make(map[feedback.Flag]int)
	for rows.Next() {
		var flagsJSON string
		if err := rows.Scan(&flagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan flags: %w", err)
		}
		var flags []feedback.Flag
		if err := json.Unmarshal([]byte(flagsJSON), &flags); err != nil {
			return nil, fmt.Errorf("failed to decode flags: %w", err)
		}
		for _, flag := range flags {
			counts[flag]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flag rows: %w", err)
	}

	return counts, nil
}

func (s *Store) CounterValue(ctx context.Context, name string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM system_counters WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %s: %w", name, err)
	}
	return value, nil
}

// DatasetEntry is one row of the approved training corpus.
type DatasetEntry struct {
	FeedbackID string    `json:"feedback_id"`
	URL        string    `json:"url"`
	Label      string    `json:"label"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) ListDataset(ctx context.Context, limit int) ([]DatasetEntry, error) {
	query := `
		SELECT feedback_id, url, label, source, created_at
		FROM approved_dataset
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset: %w", err)
	}
	defer rows.Close()

	entries := make([]DatasetEntry, 0, 32)
	for rows.Next() {
		var e DatasetEntry
		var createdAt int64
		if err := rows.Scan(&e.FeedbackID, &e.URL, &e.Label, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset row: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dataset rows: %w", err)
	}

	return entries, nil
}

// RecordScan appends one scan outcome to the analytics log.
func (s *Store) RecordScan(ctx context.Context, result *detection.ScanResult) error {
	query := `
		INSERT INTO scan_log (url, domain, final_score, classification, ml_available,
			reputation_available, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	mlAvailable := 0
	if result.MLAvailable {
		mlAvailable = 1
	}
	reputationAvailable := 0
	if result.ReputationAvailable {
		reputationAvailable = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		result.URL,
		result.Domain,
		result.FinalScore,
		string(result.Classification),
		mlAvailable,
		reputationAvailable,
		result.ProcessingMS,
		result.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record scan: %w", err)
	}

	return nil
}

// ScanEntry is one scan_log row surfaced through the history endpoint.
type ScanEntry struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	Domain         string    `json:"domain"`
	FinalScore     float64   `json:"final_score"`
	Classification string    `json:"classification"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Store) ListScans(ctx context.Context, limit int) ([]ScanEntry, error) {
	query := `
		SELECT id, url, domain, final_score, classification, created_at
		FROM scan_log
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	entries := make([]ScanEntry, 0, 32)
	for rows.Next() {
		var e ScanEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.URL, &e.Domain, &e.FinalScore, &e.Classification, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scan rows: %w", err)
	}

	return entries, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmoralesc/vigia/internal/model"

	_ "modernc.org/sqlite"
)

const createAnalysesTable = `
CREATE TABLE IF NOT EXISTS analyses (
    id            TEXT PRIMARY KEY,
    owner         TEXT NOT NULL,
    file_name     TEXT,
    status        TEXT NOT NULL,
    score         REAL,
    result        TEXT,
    error         TEXT,
    category      TEXT,
    qualifies     INTEGER NOT NULL DEFAULT 0,
    publish_phase TEXT NOT NULL,
    target_link   TEXT,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    finished_at   DATETIME
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createAnalysesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create analyses table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateAnalysis inserts a new analysis record.
func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	resultJSON, err := marshalResult(a.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (
			id, owner, file_name, status, score, result, error, category,
			qualifies, publish_phase, target_link, created_at, updated_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Owner, a.FileName, a.Status, scoreOf(a.Result), resultJSON, a.Error, a.Category,
		a.Qualifies, a.PublishPhase, a.TargetLink, a.CreatedAt, a.UpdatedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

const selectColumns = `id, owner, file_name, status, score, result, error, category,
	qualifies, publish_phase, target_link, created_at, updated_at, finished_at`

// GetAnalysis retrieves an analysis by ID.
func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM analyses WHERE id = ?`, id,
	)
	a, err := scanAnalysis(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	return a, nil
}

// ListAnalyses returns a paginated list ordered by created_at DESC, along
// with the total count.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, limit, offset int) ([]*model.Analysis, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analyses: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM analyses ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate analyses: %w", err)
	}

	return analyses, total, nil
}

// UpdateStatus moves an analysis to a new status, enforcing the monotonic
// transition table. Terminal statuses also set finished_at. A terminal
// analysis never changes status again; such updates fail with
// ErrInvalidTransition.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id, status string) error {
	return s.transition(ctx, id, status, func(tx *sql.Tx, now time.Time) error {
		var err error
		if model.TerminalStatus(status) {
			_, err = tx.ExecContext(ctx,
				"UPDATE analyses SET status = ?, updated_at = ?, finished_at = ? WHERE id = ?",
				status, now, now, id,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE analyses SET status = ?, updated_at = ? WHERE id = ?",
				status, now, id,
			)
		}
		return err
	})
}

// UpdateResult records a done analysis with its result payload.
func (s *SQLiteStore) UpdateResult(ctx context.Context, id string, result *model.Result, qualifies bool) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}
	return s.transition(ctx, id, model.StatusDone, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE analyses SET status = ?, score = ?, result = ?, qualifies = ?,
				updated_at = ?, finished_at = ? WHERE id = ?`,
			model.StatusDone, scoreOf(result), resultJSON, qualifies, now, now, id,
		)
		return err
	})
}

// UpdateFailure records a terminal failure with its classification.
func (s *SQLiteStore) UpdateFailure(ctx context.Context, id, status, category, rawMessage string) error {
	if !model.TerminalStatus(status) {
		return fmt.Errorf("%w: failure status %q is not terminal", ErrInvalidTransition, status)
	}
	return s.transition(ctx, id, status, func(tx *sql.Tx, now time.Time) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE analyses SET status = ?, category = ?, error = ?,
				updated_at = ?, finished_at = ? WHERE id = ?`,
			status, category, rawMessage, now, now, id,
		)
		return err
	})
}

// UpdatePublish records the secondary-action phase and, when uploaded, the
// target link.
func (s *SQLiteStore) UpdatePublish(ctx context.Context, id, phase, targetLink string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE analyses SET publish_phase = ?, target_link = ?, updated_at = ? WHERE id = ?",
		phase, targetLink, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update publish phase: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStats returns aggregate statistics across all analyses.
func (s *SQLiteStore) GetStats(ctx context.Context) (*AnalysisStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &AnalysisStats{CountByStatus: make(map[string]int)}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM analyses GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	var avgScore sql.NullFloat64
	var done, qualified int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(score), 0), COUNT(*), COALESCE(SUM(qualifies), 0)
		FROM analyses WHERE status = ?`, model.StatusDone,
	).Scan(&avgScore, &done, &qualified)
	if err != nil {
		return nil, fmt.Errorf("score stats: %w", err)
	}
	stats.AvgScore = avgScore.Float64
	if done > 0 {
		stats.QualifyRate = float64(qualified) / float64(done)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analyses WHERE publish_phase = ?", model.PhaseUploaded,
	).Scan(&stats.Published); err != nil {
		return nil, fmt.Errorf("published count: %w", err)
	}

	return stats, nil
}

// transition runs update inside a transaction after validating the status
// change against the current row.
func (s *SQLiteStore) transition(ctx context.Context, id, to string, update func(tx *sql.Tx, now time.Time) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM analyses WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}

	if !model.ValidTransition(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}

	if err := update(tx, time.Now().UTC()); err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func marshalResult(r *model.Result) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func scoreOf(r *model.Result) sql.NullFloat64 {
	if r == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r.Score, Valid: true}
}

// scanAnalysis reads one row using the selectColumns order.
func scanAnalysis(scan func(dest ...any) error) (*model.Analysis, error) {
	a := &model.Analysis{}
	var score sql.NullFloat64
	var result, errMsg, category, targetLink, fileName sql.NullString
	var finishedAt sql.NullTime

	err := scan(
		&a.ID, &a.Owner, &fileName, &a.Status, &score, &result, &errMsg, &category,
		&a.Qualifies, &a.PublishPhase, &targetLink, &a.CreatedAt, &a.UpdatedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	a.FileName = fileName.String
	a.Error = errMsg.String
	a.Category = category.String
	a.TargetLink = targetLink.String
	if result.Valid {
		r := &model.Result{}
		if err := json.Unmarshal([]byte(result.String), r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		a.Result = r
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		a.FinishedAt = &t
	}

	return a, nil
}

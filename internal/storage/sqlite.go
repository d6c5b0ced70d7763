package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mpataki/automenu/internal/models"
)

var ErrNotFound = errors.New("execution not found")

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		script_path TEXT NOT NULL,
		script_name TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP,
		exit_code INTEGER,
		terminated INTEGER NOT NULL DEFAULT 0,
		saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS execution_output (
		execution_id TEXT NOT NULL REFERENCES executions(id),
		line_num INTEGER NOT NULL,
		at TIMESTAMP NOT NULL,
		text TEXT NOT NULL,
		PRIMARY KEY (execution_id, line_num)
	);

	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
	CREATE INDEX IF NOT EXISTS idx_executions_script ON executions(script_path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveExecution writes one summary and its output, replacing any earlier copy.
func (s *Storage) SaveExecution(sum models.ExecutionSummary) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveExecution(tx, sum); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveHistory stores a batch of summaries in one transaction.
func (s *Storage) SaveHistory(sums []models.ExecutionSummary) error {
	if len(sums) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sum := range sums {
		if err := saveExecution(tx, sum); err != nil {
			return fmt.Errorf("save execution %s: %w", sum.ID, err)
		}
	}
	return tx.Commit()
}

func saveExecution(tx *sql.Tx, sum models.ExecutionSummary) error {
	var endedAt sql.NullTime
	if sum.EndedAt != nil {
		endedAt = sql.NullTime{Time: *sum.EndedAt, Valid: true}
	}
	var exitCode sql.NullInt64
	if sum.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*sum.ExitCode), Valid: true}
	}

	_, err := tx.Exec(
		`INSERT OR REPLACE INTO executions (id, script_path, script_name, started_at, ended_at, exit_code, terminated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Script.Path, sum.Script.Name, sum.StartedAt, endedAt, exitCode, sum.Terminated,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM execution_output WHERE execution_id = ?`, sum.ID); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO execution_output (execution_id, line_num, at, text) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, line := range sum.Output {
		if _, err := stmt.Exec(sum.ID, i, line.At, line.Text); err != nil {
			return err
		}
	}
	return nil
}

const executionColumns = `id, script_path, script_name, started_at, ended_at, exit_code, terminated`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.ExecutionSummary, error) {
	var sum models.ExecutionSummary
	var endedAt sql.NullTime
	var exitCode sql.NullInt64

	err := row.Scan(
		&sum.ID, &sum.Script.Path, &sum.Script.Name, &sum.StartedAt,
		&endedAt, &exitCode, &sum.Terminated,
	)
	if err != nil {
		return nil, err
	}

	if endedAt.Valid {
		sum.EndedAt = &endedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		sum.ExitCode = &code
	}
	return &sum, nil
}

// ListExecutions returns the newest executions first, without their output.
func (s *Storage) ListExecutions(limit int) ([]*models.ExecutionSummary, error) {
	rows, err := s.db.Query(
		`SELECT `+executionColumns+` FROM executions ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ExecutionSummary
	for rows.Next() {
		sum, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetExecution loads one execution including its output.
func (s *Storage) GetExecution(id string) (*models.ExecutionSummary, error) {
	sum, err := scanExecution(s.db.QueryRow(
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT at, text FROM execution_output WHERE execution_id = ? ORDER BY line_num`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sum.Output = []models.OutputEntry{}
	for rows.Next() {
		var line models.OutputEntry
		if err := rows.Scan(&line.At, &line.Text); err != nil {
			return nil, err
		}
		sum.Output = append(sum.Output, line)
	}
	return sum, rows.Err()
}

func (s *Storage) DeleteExecution(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM execution_output WHERE execution_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// FormatTimeAgo renders t relative to now for listings.
func FormatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2")
	}
}

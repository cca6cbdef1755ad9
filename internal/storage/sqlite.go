package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/taskgraph/internal/model"
)

// SnapshotStorage persists the whole task graph
type SnapshotStorage interface {
	// SaveSnapshot replaces the stored graph with tasks, keeping their order
	SaveSnapshot(ctx context.Context, tasks []*model.Task) error

	// LoadSnapshot returns the stored graph in its saved order
	LoadSnapshot(ctx context.Context) ([]*model.Task, error)
}

// HistoryStorage defines the interface for status history storage
type HistoryStorage interface {
	// Record stores status change records
	Record(ctx context.Context, changes ...*model.StatusChange) error

	// Get retrieves a status change by ID
	Get(ctx context.Context, id string) (*model.StatusChange, error)

	// List retrieves status changes, newest first, with pagination and filters
	List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*model.StatusChange, error)

	// Count returns the total number of records matching the filter
	Count(ctx context.Context, filter HistoryFilter) (int, error)

	// DeleteBefore deletes records older than the specified time
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// HistoryFilter narrows history queries. Zero fields match everything.
type HistoryFilter struct {
	TaskID string
	Cause  model.ChangeCause
	Since  time.Time
}

func (f HistoryFilter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id = ?")
		args = append(args, f.TaskID)
	}
	if f.Cause != "" {
		clauses = append(clauses, "cause = ?")
		args = append(args, string(f.Cause))
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "changed_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SQLiteStore implements SnapshotStorage and HistoryStorage using SQLite
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(logger *zap.Logger, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	storage := &SQLiteStore{
		logger: logger.Named("sqlite"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id TEXT NOT NULL,
			depends_on_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (task_id, depends_on_id)
		);
		CREATE TABLE IF NOT EXISTS status_history (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			cause TEXT NOT NULL,
			source_id TEXT,
			changed_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_status_history_task_id ON status_history(task_id);
		CREATE INDEX IF NOT EXISTS idx_status_history_changed_at ON status_history(changed_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// SaveSnapshot implements SnapshotStorage.SaveSnapshot
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, tasks []*model.Task) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM task_dependencies"); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM tasks"); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}

	taskStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (id, position, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}
	defer taskStmt.Close()

	depStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO task_dependencies (task_id, depends_on_id, position)
		VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare dependency insert: %w", err)
	}
	defer depStmt.Close()

	for i, task := range tasks {
		if _, err = taskStmt.ExecContext(ctx,
			task.ID,
			i,
			task.Title,
			task.Description,
			string(task.Status),
			task.CreatedAt.UTC(),
			task.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to store task %s: %w", task.ID, err)
		}
		for j, dep := range task.Dependencies {
			if _, err = depStmt.ExecContext(ctx, task.ID, dep, j); err != nil {
				return fmt.Errorf("failed to store dependency %s -> %s: %w", task.ID, dep, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", zap.Int("tasks", len(tasks)))
	return nil
}

// LoadSnapshot implements SnapshotStorage.LoadSnapshot
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, created_at, updated_at
		FROM tasks
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	byID := make(map[string]*model.Task)
	for rows.Next() {
		task := &model.Task{Dependencies: []string{}}
		var status string
		if err := rows.Scan(
			&task.ID,
			&task.Title,
			&task.Description,
			&status,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Status = model.TaskStatus(status)
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	// Release the single connection before the next query
	rows.Close()

	depRows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		ORDER BY task_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, dependsOnID string
		if err := depRows.Scan(&taskID, &dependsOnID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		task, ok := byID[taskID]
		if !ok {
			s.logger.Warn("Skipping dependency of unknown task",
				zap.String("task_id", taskID),
				zap.String("depends_on_id", dependsOnID))
			continue
		}
		task.Dependencies = append(task.Dependencies, dependsOnID)
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return tasks, nil
}

// Record implements HistoryStorage.Record
func (s *SQLiteStore) Record(ctx context.Context, changes ...*model.StatusChange) error {
	for _, change := range changes {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO status_history (
				id, task_id, from_status, to_status, cause, source_id, changed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			change.ID,
			change.TaskID,
			string(change.From),
			string(change.To),
			string(change.Cause),
			sql.NullString{String: change.SourceID, Valid: change.SourceID != ""},
			change.ChangedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to store status change: %w", err)
		}
	}
	return nil
}

// Get implements HistoryStorage.Get. It returns nil when no record matches.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.StatusChange, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, from_status, to_status, cause, source_id, changed_at
		FROM status_history
		WHERE id = ?`, id)

	change, err := scanChange(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan status change: %w", err)
	}
	return change, nil
}

// List implements HistoryStorage.List
func (s *SQLiteStore) List(ctx context.Context, filter HistoryFilter, offset, limit int) ([]*model.StatusChange, error) {
	where, args := filter.where()
	query := "SELECT id, task_id, from_status, to_status, cause, source_id, changed_at FROM status_history" +
		where + " ORDER BY changed_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer rows.Close()

	var changes []*model.StatusChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan status change: %w", err)
		}
		changes = append(changes, change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return changes, nil
}

// Count implements HistoryStorage.Count
func (s *SQLiteStore) Count(ctx context.Context, filter HistoryFilter) (int, error) {
	where, args := filter.where()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM status_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count status history: %w", err)
	}
	return count, nil
}

// DeleteBefore implements HistoryStorage.DeleteBefore
func (s *SQLiteStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM status_history WHERE changed_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete status history: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old status history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChange(row rowScanner) (*model.StatusChange, error) {
	var change model.StatusChange
	var from, to, cause string
	var sourceID sql.NullString

	if err := row.Scan(
		&change.ID,
		&change.TaskID,
		&from,
		&to,
		&cause,
		&sourceID,
		&change.ChangedAt,
	); err != nil {
		return nil, err
	}

	change.From = model.TaskStatus(from)
	change.To = model.TaskStatus(to)
	change.Cause = model.ChangeCause(cause)
	if sourceID.Valid {
		change.SourceID = sourceID.String
	}
	return &change, nil
}

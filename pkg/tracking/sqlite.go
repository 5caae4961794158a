package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mimir-aip/satisfaction-pipeline/pkg/models"
)

// SQLiteTracker stores runs in a SQLite database
type SQLiteTracker struct {
	db *sql.DB
}

// NewSQLiteTracker opens (creating if needed) the tracking database at dbPath
func NewSQLiteTracker(dbPath string) (*SQLiteTracker, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create tracking directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes are serialized by SQLite anyway
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	t := &SQLiteTracker{db: db}
	if err := t.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return t, nil
}

// Close closes the database connection
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

func (t *SQLiteTracker) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		experiment TEXT NOT NULL,
		pipeline_name TEXT NOT NULL,
		status TEXT NOT NULL,
		artifact_path TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment, started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline_name, status, started_at);

	CREATE TABLE IF NOT EXISTS params (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value REAL NOT NULL,
		step INTEGER NOT NULL,
		logged_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_run ON metrics(run_id, key);
	`
	_, err := t.db.Exec(schema)
	return err
}

// StartRun creates a RUNNING run with a fresh UUID
func (t *SQLiteTracker) StartRun(ctx context.Context, experiment, pipeline string) (*models.Run, error) {
	if experiment == "" {
		experiment = DefaultExperiment
	}
	run := &models.Run{
		ID:           uuid.New().String(),
		Experiment:   experiment,
		PipelineName: pipeline,
		Status:       models.RunStatusRunning,
		Params:       map[string]string{},
		Metrics:      map[string]float64{},
		StartedAt:    time.Now().UTC(),
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO runs (id, experiment, pipeline_name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Experiment, run.PipelineName, string(run.Status), run.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, nil
}

func (t *SQLiteTracker) requireRun(ctx context.Context, runID string) error {
	var id string
	err := t.db.QueryRowContext(ctx, `SELECT id FROM runs WHERE id = ?`, runID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return err
}

// LogParams upserts params on a run; a later value for a key replaces the earlier one
func (t *SQLiteTracker) LogParams(ctx context.Context, runID string, params map[string]string) error {
	if err := t.requireRun(ctx, runID); err != nil {
		return err
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO params (run_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(run_id, key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return fmt.Errorf("failed to prepare params insert: %w", err)
	}
	defer stmt.Close()

	for k, v := range params {
		if _, err := stmt.ExecContext(ctx, runID, k, v); err != nil {
			return fmt.Errorf("failed to log param %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LogMetric appends a metric value; the step counts prior values of the key
func (t *SQLiteTracker) LogMetric(ctx context.Context, runID, key string, value float64) error {
	if err := t.requireRun(ctx, runID); err != nil {
		return err
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO metrics (run_id, key, value, step, logged_at)
		 VALUES (?, ?, ?, (SELECT COUNT(*) FROM metrics WHERE run_id = ? AND key = ?), ?)`,
		runID, key, value, runID, key, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to log metric %s: %w", key, err)
	}
	return nil
}

// EndRun sets the final status and artifact path
func (t *SQLiteTracker) EndRun(ctx context.Context, runID string, status models.RunStatus, artifactPath string) error {
	res, err := t.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, artifact_path = ?, ended_at = ? WHERE id = ?`,
		string(status), artifactPath, time.Now().UTC().UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("failed to end run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, experiment, pipeline_name, status, artifact_path, started_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var status string
	var started int64
	var ended sql.NullInt64
	if err := row.Scan(&run.ID, &run.Experiment, &run.PipelineName, &status, &run.ArtifactPath, &started, &ended); err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)
	run.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		end := time.Unix(0, ended.Int64).UTC()
		run.EndedAt = &end
	}
	return &run, nil
}

// GetRun loads a run with its params and latest metric values
func (t *SQLiteTracker) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	run, err := scanRun(t.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if err := t.loadDetails(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (t *SQLiteTracker) loadDetails(ctx context.Context, run *models.Run) error {
	run.Params = map[string]string{}
	run.Metrics = map[string]float64{}

	rows, err := t.db.QueryContext(ctx, `SELECT key, value FROM params WHERE run_id = ?`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load params: %w", err)
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan param: %w", err)
		}
		run.Params[k] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Ascending id order, so the last write per key wins
	rows, err = t.db.QueryContext(ctx, `SELECT key, value FROM metrics WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return fmt.Errorf("failed to load metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v float64
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("failed to scan metric: %w", err)
		}
		run.Metrics[k] = v
	}
	return rows.Err()
}

func (t *SQLiteTracker) queryRuns(ctx context.Context, query string, args ...interface{}) ([]*models.Run, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Details are loaded after the cursor is closed; the pool has one connection
	for _, run := range runs {
		if err := t.loadDetails(ctx, run); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

// ListRuns returns the newest runs of an experiment first. limit <= 0 means no limit.
func (t *SQLiteTracker) ListRuns(ctx context.Context, experiment string, limit int) ([]*models.Run, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + runColumns + ` FROM runs WHERE experiment = ? ORDER BY started_at DESC, rowid DESC`)
	args := []interface{}{experiment}
	if limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}
	return t.queryRuns(ctx, b.String(), args...)
}

// LatestRun returns the most recent run of pipeline with the given status
func (t *SQLiteTracker) LatestRun(ctx context.Context, pipeline string, status models.RunStatus) (*models.Run, error) {
	runs, err := t.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs WHERE pipeline_name = ? AND status = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		pipeline, string(status))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: no %s run for pipeline %s", ErrRunNotFound, status, pipeline)
	}
	return runs[0], nil
}

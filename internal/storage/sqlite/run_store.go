package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/roomscan/internal/pipeline"
	"github.com/banshee-data/roomscan/internal/timeutil"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded pipeline invocation.
type Run struct {
	RunID        string                `json:"run_id"`
	Name         string                `json:"name"`
	InputPath    string                `json:"input_path"`
	OutputPath   string                `json:"output_path,omitempty"`
	State        string                `json:"state"`
	InputPoints  int                   `json:"input_points"`
	OutputPoints int                   `json:"output_points"`
	Triangles    int                   `json:"triangles"`
	Duration     time.Duration         `json:"duration"`
	Warnings     []string              `json:"warnings,omitempty"`
	ParamsJSON   string                `json:"params_json,omitempty"`
	Error        string                `json:"error,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	Stages       []pipeline.StageStats `json:"stages,omitempty"`
}

// RunFromResult builds a record for a finished run. res may be nil when the
// run aborted; runErr is then stored on the record.
func RunFromResult(name, inputPath, outputPath string, inputPoints int, params pipeline.Params, res *pipeline.Result, runErr error) *Run {
	r := &Run{
		Name:        name,
		InputPath:   inputPath,
		OutputPath:  outputPath,
		InputPoints: inputPoints,
		State:       "aborted",
	}
	if b, err := json.Marshal(params); err == nil {
		r.ParamsJSON = string(b)
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if res == nil {
		return r
	}

	r.State = res.State.String()
	if res.Cloud != nil {
		r.OutputPoints = res.Cloud.Len()
	}
	if res.Mesh != nil {
		r.Triangles = res.Mesh.TriangleCount()
	}
	r.Warnings = append([]string(nil), res.Warnings...)
	r.Stages = append([]pipeline.StageStats(nil), res.Stages...)
	for _, st := range res.Stages {
		r.Duration += st.Duration
	}
	return r
}

// RunStore provides persistence for run records.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore over an open, migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// NewRunStoreWithClock is NewRunStore with an injected clock for CreatedAt.
func NewRunStoreWithClock(db *sql.DB, clock timeutil.Clock) *RunStore {
	return &RunStore{db: db, clock: clock}
}

// Insert stores run and its stages in one transaction.
// If run.RunID is empty, a new UUID is generated. A zero CreatedAt is set
// from the store clock.
func (s *RunStore) Insert(ctx context.Context, run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock.Now()
	}
	warnings, err := json.Marshal(nonNil(run.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	params := run.ParamsJSON
	if params == "" {
		params = "{}"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipeline_runs (
			run_id, name, input_path, output_path, state,
			input_points, output_points, triangles, duration_ms,
			warnings_json, params_json, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.RunID,
		run.Name,
		run.InputPath,
		run.OutputPath,
		run.State,
		run.InputPoints,
		run.OutputPoints,
		run.Triangles,
		run.Duration.Milliseconds(),
		string(warnings),
		params,
		nullString(run.Error),
		run.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, st := range run.Stages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_run_stages (
				run_id, seq, name, input_count, output_count, duration_ns, skipped
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, run.RunID, i, st.Name, st.Input, st.Output, int64(st.Duration), st.Skipped)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `
	run_id, name, input_path, output_path, state,
	input_points, output_points, triangles, duration_ms,
	warnings_json, params_json, error, created_at`

// Get returns the run with the given ID and its stages.
func (s *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.Stages, err = s.stages(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first. Stages are not loaded.
// A limit of zero or less returns every run.
func (s *RunStore) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs ORDER BY created_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Delete removes a run and, through the foreign key, its stages.
func (s *RunStore) Delete(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM pipeline_runs WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *RunStore) stages(ctx context.Context, runID string) ([]pipeline.StageStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, input_count, output_count, duration_ns, skipped
		FROM pipeline_run_stages
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []pipeline.StageStats
	for rows.Next() {
		var st pipeline.StageStats
		var durationNs int64
		if err := rows.Scan(&st.Name, &st.Input, &st.Output, &durationNs, &st.Skipped); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Duration = time.Duration(durationNs)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	r := &Run{}
	var durationMs, createdAt int64
	var warnings string
	var runErr sql.NullString

	err := sc.Scan(
		&r.RunID, &r.Name, &r.InputPath, &r.OutputPath, &r.State,
		&r.InputPoints, &r.OutputPoints, &r.Triangles, &durationMs,
		&warnings, &r.ParamsJSON, &runErr, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if runErr.Valid {
		r.Error = runErr.String
	}
	if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings for %s: %w", r.RunID, err)
	}
	if len(r.Warnings) == 0 {
		r.Warnings = nil
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

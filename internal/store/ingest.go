package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/wfconsole/internal/ingest"
)

// IngestRun represents a single API fetch operation for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "weatherflow"
	Endpoint          string // "stations", "observations", "better_forecast"
	StationID         sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	DurationMS        sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(ctx context.Context, source, endpoint string, stationID *string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}
	if stationID != nil {
		run.StationID = sql.NullString{String: *stationID, Valid: true}
	}
	return run, s.insertRun(ctx, run)
}

func (s *Store) insertRun(ctx context.Context, run *IngestRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (started_at, source, endpoint, station_id, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint, run.StationID)
	if err != nil {
		return err
	}
	run.ID, err = result.LastInsertId()
	return err
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(ctx context.Context, run *IngestRun) error {
	if run == nil {
		return nil
	}
	if !run.FinishedAt.Valid {
		run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			duration_ms = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.DurationMS,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

// RecordFetch stores a completed WeatherFlow REST call. Failures are logged;
// auditing never fails the call being audited.
func (s *Store) RecordFetch(ctx context.Context, r ingest.FetchResult) {
	ctx = context.WithoutCancel(ctx)
	run := &IngestRun{
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: sql.NullTime{Time: r.StartedAt.Add(r.Duration).UTC(), Valid: true},
		Source:     "weatherflow",
		Endpoint:   r.Endpoint,
		DurationMS: sql.NullInt64{Int64: r.Duration.Milliseconds(), Valid: true},
		Success:    r.Error == nil && r.HTTPStatus == 200,
	}
	if r.StationID != "" {
		run.StationID = sql.NullString{String: r.StationID, Valid: true}
	}
	if r.HTTPStatus > 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(r.HTTPStatus), Valid: true}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(r.ResponseSize), Valid: true}
	}
	if r.Error != nil {
		run.ErrorMessage = sql.NullString{String: r.Error.Error(), Valid: true}
	}

	if err := s.insertRun(ctx, run); err != nil {
		s.logger.Warn("record ingest run", "endpoint", r.Endpoint, "error", err)
		return
	}
	if err := s.CompleteIngestRun(ctx, run); err != nil {
		s.logger.Warn("complete ingest run", "id", run.ID, "error", err)
	}
}

var _ ingest.Auditor = (*Store)(nil)

// IngestHealthSummary represents a daily ingest health summary.
type IngestHealthSummary struct {
	Date          string `json:"date"`
	Source        string `json:"source"`
	Endpoint      string `json:"endpoint"`
	TotalRuns     int    `json:"total_runs"`
	SuccessRuns   int    `json:"success_runs"`
	FailedRuns    int    `json:"failed_runs"`
	AvgDurationMS int64  `json:"avg_duration_ms"`
}

// GetIngestHealth returns ingest health summaries for the last N days.
func (s *Store) GetIngestHealth(ctx context.Context, days int) ([]IngestHealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			endpoint,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER) as avg_duration_ms
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Endpoint, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.AvgDurationMS); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(ctx context.Context, limit int) ([]IngestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, source, endpoint, station_id,
			   http_status, response_size_bytes, duration_ms, success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.StationID, &r.HTTPStatus, &r.ResponseSizeBytes, &r.DurationMS,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldRuns deletes ingest runs older than retentionDays.
func (s *Store) CleanupOldRuns(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

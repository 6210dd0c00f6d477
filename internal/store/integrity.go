package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vantapoint/perpcore/internal/domain"
)

// InsertIntegrityEvent appends an immutable GAP/DUPLICATE/REPAIR event.
func (s *Store) InsertIntegrityEvent(ctx context.Context, ev *domain.IntegrityEvent) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO candle_integrity_events (symbol, timeframe, event_type, start_ts, end_ts,
			expected_bars, actual_bars, missing_bars, duplicate_bars, severity, detected_at, repair_job_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		ev.Symbol, ev.Timeframe, ev.EventType, ev.StartTs, ev.EndTs,
		ev.ExpectedBars, ev.ActualBars, ev.MissingBars, ev.DuplicateBars, ev.Severity, ev.DetectedAtS, ev.RepairJobID)
	if err != nil {
		return fmt.Errorf("insert integrity event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("integrity event row id: %w", err)
	}
	ev.ID = id
	return nil
}

// InsertRepairJob creates a RUNNING repair job row.
func (s *Store) InsertRepairJob(ctx context.Context, job *domain.RepairJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candle_repair_jobs (job_id, symbol, timeframe, range_start_ts, range_end_ts, status, repaired_bars)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		job.JobID, job.Symbol, job.Timeframe, job.RangeStartTs, job.RangeEndTs, job.Status)
	if err != nil {
		return fmt.Errorf("insert repair job: %w", err)
	}
	return nil
}

// FinalizeRepairJob transitions a repair job to a terminal status.
func (s *Store) FinalizeRepairJob(ctx context.Context, jobID string, status domain.RepairStatus, repairedBars int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE candle_repair_jobs SET status=?, repaired_bars=?, message=NULLIF(?, '') WHERE job_id=?`,
		status, repairedBars, message, jobID)
	if err != nil {
		return fmt.Errorf("finalize repair job: %w", err)
	}
	return nil
}

// GetRepairJob loads a repair job by id.
func (s *Store) GetRepairJob(ctx context.Context, jobID string) (*domain.RepairJob, error) {
	var j domain.RepairJob
	var msg, payload sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, symbol, timeframe, range_start_ts, range_end_ts, status, repaired_bars, message, raw_payload
		FROM candle_repair_jobs WHERE job_id=?`, jobID).
		Scan(&j.JobID, &j.Symbol, &j.Timeframe, &j.RangeStartTs, &j.RangeEndTs, &j.Status, &j.RepairedBars, &msg, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query repair job: %w", err)
	}
	j.Message, j.RawPayload = msg.String, payload.String
	return &j, nil
}

// GetIngestionRun loads one ingestion-run row by id.
func (s *Store) GetIngestionRun(ctx context.Context, id int64) (*domain.IngestionRun, error) {
	var run domain.IngestionRun
	var timeframe, errMsg sql.NullString
	var endedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, symbol, timeframe, data_type, started_at, ended_at, status, rows_inserted, error
		FROM ingestion_runs WHERE id=?`, id).
		Scan(&run.ID, &run.Source, &run.Symbol, &timeframe, &run.DataType,
			&run.StartedAtS, &endedAt, &run.Status, &run.RowsInserted, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query ingestion run: %w", err)
	}
	run.Timeframe = timeframe.String
	run.Error = errMsg.String
	if endedAt.Valid {
		run.EndedAtS = &endedAt.Int64
	}
	return &run, nil
}

// LatestIngestionRun loads the most recent run for (symbol, dataType).
func (s *Store) LatestIngestionRun(ctx context.Context, symbol, dataType string) (*domain.IngestionRun, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM ingestion_runs WHERE symbol=? AND data_type=? ORDER BY id DESC LIMIT 1`,
		symbol, dataType).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest ingestion run: %w", err)
	}
	return s.GetIngestionRun(ctx, id)
}

// BeginIngestionRun inserts a `running` ingestion-run row and returns its id.
func (s *Store) BeginIngestionRun(ctx context.Context, run *domain.IngestionRun) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (source, symbol, timeframe, data_type, started_at, status, rows_inserted)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		run.Source, run.Symbol, run.Timeframe, run.DataType, run.StartedAtS, domain.IngestionRunning)
	if err != nil {
		return fmt.Errorf("begin ingestion run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ingestion run row id: %w", err)
	}
	run.ID = id
	return nil
}

// FinalizeIngestionRun closes out an ingestion-run row.
func (s *Store) FinalizeIngestionRun(ctx context.Context, id int64, status domain.IngestionStatus, rowsInserted int64, endedAtS int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_runs SET status=?, rows_inserted=?, ended_at=?, error=NULLIF(?, '') WHERE id=?`,
		status, rowsInserted, endedAtS, errMsg, id)
	if err != nil {
		return fmt.Errorf("finalize ingestion run: %w", err)
	}
	return nil
}

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ResultOK is the operation result stored for successful operations.
const ResultOK = "ok"

// BeginRun records the start of a command and returns its id.
func (s *Store) BeginRun(ctx context.Context, command, game, targetDir string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`INSERT INTO runs (command, game, target_dir, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		command,
		nullableString(game),
		nullableString(targetDir),
		string(RunActive),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// RecordOperations stores the outcomes of a batch of operations for run.
func (s *Store) RecordOperations(ctx context.Context, runID int64, ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO operations (
                run_id, num, kind, source, destination, result, error_code, error_message, completed_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, op := range ops {
			completed := op.CompletedAt
			if completed.IsZero() {
				completed = time.Now()
			}
			if _, err := stmt.ExecContext(ctx,
				runID,
				int64(op.Num),
				op.Kind,
				nullableString(op.Source),
				op.Destination,
				op.Result,
				nullableString(op.ErrorCode),
				nullableString(op.ErrorMessage),
				completed.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("insert operation %d: %w", op.Num, err)
			}
		}
		return tx.Commit()
	})
}

// FinishRun stores the final status of run.
func (s *Store) FinishRun(ctx context.Context, runID int64, status RunStatus, detail string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, detail = ?, finished_at = ? WHERE id = ?`,
		string(status),
		nullableString(detail),
		time.Now().UTC().Format(time.RFC3339Nano),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: run %d not found", runID)
	}
	return nil
}

// RecentRuns returns the newest runs first with operation counts.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.command, r.game, r.target_dir, r.status, r.detail, r.started_at, r.finished_at,
                COALESCE(SUM(CASE WHEN o.result = ? THEN 1 ELSE 0 END), 0),
                COALESCE(SUM(CASE WHEN o.result IS NOT NULL AND o.result <> ? THEN 1 ELSE 0 END), 0)
           FROM runs r
           LEFT JOIN operations o ON o.run_id = r.id
          GROUP BY r.id
          ORDER BY r.id DESC
          LIMIT ?`,
		ResultOK, ResultOK, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run                  Run
			game, target, detail sql.NullString
			status, startedAt    string
			finishedAt           sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Command, &game, &target, &status, &detail,
			&startedAt, &finishedAt, &run.Succeeded, &run.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = RunStatus(status)
		run.Game = game.String
		run.TargetDir = target.String
		run.Detail = detail.String
		run.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			run.FinishedAt = parseTime(finishedAt.String)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// FailedOperations returns the unsuccessful operations of run ordered by num.
func (s *Store) FailedOperations(ctx context.Context, runID int64) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT num, kind, source, destination, result, error_code, error_message, completed_at
           FROM operations
          WHERE run_id = ? AND result <> ?
          ORDER BY num`,
		runID, ResultOK)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var (
			op                    Operation
			num                   int64
			source, code, message sql.NullString
			completedAt           string
		)
		if err := rows.Scan(&num, &op.Kind, &source, &op.Destination, &op.Result, &code, &message, &completedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Num = uint64(num)
		op.Source = source.String
		op.ErrorCode = code.String
		op.ErrorMessage = message.String
		op.CompletedAt = parseTime(completedAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// LatestRun returns the newest run, or nil when the journal is empty.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

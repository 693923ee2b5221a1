package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ringrelay/internal/models"
)

func (d *Database) CreateCallLog(ctx context.Context, log *models.CallLog) error {
	err := withRetry(ctx, "create call log", func() error {
		_, err := d.db.ExecContext(ctx, InsertCallLogQuery,
			log.ID,
			log.CallerID,
			log.CalleeID,
			string(log.CallType),
			string(log.Status),
			log.Duration,
			log.CreatedAt.UTC(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// GetCallLog returns the call log or nil when it does not exist
func (d *Database) GetCallLog(ctx context.Context, id string) (*models.CallLog, error) {
	log := &models.CallLog{}
	var callType, status string
	err := d.db.QueryRowContext(ctx, SelectCallLogQuery, id).Scan(
		&log.ID,
		&log.CallerID,
		&log.CalleeID,
		&callType,
		&status,
		&log.Duration,
		&log.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	log.CallType = models.CallType(callType)
	log.Status = models.CallStatus(status)
	return log, nil
}

// UpdateCallStatus finalizes a missed call. It reports false when the log no
// longer exists or has already left the missed state.
func (d *Database) UpdateCallStatus(ctx context.Context, id string, next models.CallStatus, duration int64) (bool, error) {
	if !models.CallStatusMissed.CanTransition(next) {
		return false, fmt.Errorf("%w: missed -> %s", models.ErrInvalidCallTransition, next)
	}

	changed, err := d.bulkUpdate(ctx, "update call status", UpdateCallStatusQuery, string(next), duration, id)
	if err != nil {
		return false, err
	}
	return changed > 0, nil
}

// GetPopulatedCallLog returns the log with both parties resolved, or nil
func (d *Database) GetPopulatedCallLog(ctx context.Context, id string) (*models.PopulatedCallLog, error) {
	log, err := scanPopulatedCallLog(d.db.QueryRowContext(ctx, SelectPopulatedCallLogQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get populated call log: %w", err)
	}
	return log, nil
}

// ListCallLogs returns the user's most recent calls, newest first
func (d *Database) ListCallLogs(ctx context.Context, userID string, limit int) ([]*models.PopulatedCallLog, error) {
	rows, err := d.db.QueryContext(ctx, SelectCallHistoryQuery, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []*models.PopulatedCallLog{}
	for rows.Next() {
		log, err := scanPopulatedCallLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate call history: %w", err)
	}
	return logs, nil
}

func scanPopulatedCallLog(row rowScanner) (*models.PopulatedCallLog, error) {
	log := &models.PopulatedCallLog{}
	var callType, status string
	if err := row.Scan(
		&log.ID,
		&log.Caller.ID, &log.Caller.Username, &log.Caller.Tag, &log.Caller.ProfilePic,
		&log.Callee.ID, &log.Callee.Username, &log.Callee.Tag, &log.Callee.ProfilePic,
		&callType,
		&status,
		&log.Duration,
		&log.CreatedAt,
	); err != nil {
		return nil, err
	}
	log.CallType = models.CallType(callType)
	log.Status = models.CallStatus(status)
	return log, nil
}

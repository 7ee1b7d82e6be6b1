package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// CreatePunch inserts one archived punch row
func (s *PostgresStore) CreatePunch(ctx context.Context, rec *models.PunchRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO punch_logs (
            id, created_at, user_id, punch, status,
            timestamp, machine_id, outcome, http_status
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.UserID, rec.Punch, rec.Status,
		rec.Timestamp, rec.MachineID, rec.Outcome, rec.HTTPStatus,
	)

	return err
}

// ListPunches lists archived punches with filters
func (s *PostgresStore) ListPunches(ctx context.Context, filters PunchFilters, limit, offset int) ([]*models.PunchRecord, int64, error) {
	// Build query with filters
	query := "SELECT COUNT(*) FROM punch_logs WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.UserID != nil {
		argCount++
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filters.UserID)
	}

	if filters.Outcome != nil {
		argCount++
		query += fmt.Sprintf(" AND outcome = $%d", argCount)
		args = append(args, *filters.Outcome)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, user_id, punch, status, timestamp, machine_id, outcome, http_status", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.db.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []*models.PunchRecord
	for rows.Next() {
		rec := &models.PunchRecord{}
		err := rows.Scan(
			&rec.ID, &rec.CreatedAt, &rec.UserID, &rec.Punch, &rec.Status,
			&rec.Timestamp, &rec.MachineID, &rec.Outcome, &rec.HTTPStatus,
		)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}

	return recs, count, rows.Err()
}

// LatestPunch returns the most recently archived punch
func (s *PostgresStore) LatestPunch(ctx context.Context) (*models.PunchRecord, error) {
	query := `
        SELECT id, created_at, user_id, punch, status, timestamp, machine_id, outcome, http_status
        FROM punch_logs ORDER BY created_at DESC LIMIT 1`

	rec := &models.PunchRecord{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&rec.ID, &rec.CreatedAt, &rec.UserID, &rec.Punch, &rec.Status,
		&rec.Timestamp, &rec.MachineID, &rec.Outcome, &rec.HTTPStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

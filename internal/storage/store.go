package storage

import (
	"context"
	"errors"
	"time"

	"github.com/zkconnect/zkconnect-bridge/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

// PunchFilters narrows archive queries.
type PunchFilters struct {
	UserID    *string
	Outcome   *models.OutcomeKind
	StartTime *time.Time
	EndTime   *time.Time
}

// Store defines the punch archive interface.
type Store interface {
	CreatePunch(ctx context.Context, rec *models.PunchRecord) error
	ListPunches(ctx context.Context, filters PunchFilters, limit, offset int) ([]*models.PunchRecord, int64, error)
	LatestPunch(ctx context.Context) (*models.PunchRecord, error)
	Close() error
}

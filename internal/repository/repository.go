package repository

import (
	"context"
	"database/sql"
	"time"

	"transformer_monitor/internal/models"
)

// JournalRepo stores acquisition transitions.
type JournalRepo interface {
	Append(ctx context.Context, e models.AcquisitionEvent) error
	List(ctx context.Context, from, to time.Time, typ string) ([]models.AcquisitionEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type Repository struct {
	Journal JournalRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Journal: NewJournalSQLite(db),
	}
}

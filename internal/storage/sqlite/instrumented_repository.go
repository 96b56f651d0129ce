package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/copernicus-rs/rs-server/internal/storage"
	"github.com/copernicus-rs/rs-server/internal/telemetry"
)

// InstrumentedStatusRepository wraps StatusRepository with telemetry.
type InstrumentedStatusRepository struct {
	repo      *StatusRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStatusRepository creates an instrumented repository for the
// given product-family table.
func NewInstrumentedStatusRepository(db *sql.DB, table string, tel *telemetry.Telemetry) *InstrumentedStatusRepository {
	return &InstrumentedStatusRepository{
		repo:      NewStatusRepository(db, table),
		telemetry: tel,
	}
}

func (r *InstrumentedStatusRepository) Get(ctx context.Context, name string) (*storage.ProductRecord, error) {
	var (
		rec *storage.ProductRecord
		err error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "get_product", func(ctx context.Context) error {
		rec, err = r.repo.Get(ctx, name)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return rec, nil
}

func (r *InstrumentedStatusRepository) Create(ctx context.Context, name, productID string, availableAt time.Time) (*storage.ProductRecord, error) {
	var (
		rec *storage.ProductRecord
		err error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "create_product", func(ctx context.Context) error {
		rec, err = r.repo.Create(ctx, name, productID, availableAt)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return rec, nil
}

func (r *InstrumentedStatusRepository) CreateIfMissing(ctx context.Context, name, productID string, availableAt time.Time) (bool, error) {
	var (
		created bool
		err     error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "create_product_if_missing", func(ctx context.Context) error {
		created, err = r.repo.CreateIfMissing(ctx, name, productID, availableAt)

		return err
	})
	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return created, nil
}

func (r *InstrumentedStatusRepository) Reset(ctx context.Context, name string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "reset_product", func(ctx context.Context) error {
		return r.repo.Reset(ctx, name)
	})
}

func (r *InstrumentedStatusRepository) Transition(ctx context.Context, name string, to storage.DownloadStatus, failMessage string) (*storage.ProductRecord, error) {
	var (
		rec *storage.ProductRecord
		err error
	)

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "transition_product", func(ctx context.Context) error {
		rec, err = r.repo.Transition(ctx, name, to, failMessage)

		return err
	})
	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return rec, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/copernicus-rs/rs-server/internal/storage"
	"github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// StatusRepository persists ProductRecords in one product-family table.
// It implements storage.StatusStore.
type StatusRepository struct {
	db    *sql.DB
	table string
	locks *storage.LockRegistry
}

func NewStatusRepository(db *sql.DB, table string) *StatusRepository {
	return &StatusRepository{
		db:    db,
		table: table,
		locks: storage.NewLockRegistry(),
	}
}

func (r *StatusRepository) Get(ctx context.Context, name string) (*storage.ProductRecord, error) {
	return r.get(ctx, name)
}

// Create inserts a fresh NOT_STARTED record. Duplicate names or product IDs
// trip the unique indexes and surface as storage.ErrConflict.
func (r *StatusRepository) Create(ctx context.Context, name, productID string, availableAt time.Time) (*storage.ProductRecord, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (product_id, name, available_at_station, status) VALUES (?, ?, ?, ?)`,
		productID, name, availableAt.UTC().Format(timeLayout), storage.NotStarted.String(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%q: %w", name, storage.ErrConflict)
		}

		return nil, err
	}

	return r.get(ctx, name)
}

// CreateIfMissing inserts the record unless one with the same name or product
// ID is already tracked, and reports whether an insert happened.
func (r *StatusRepository) CreateIfMissing(ctx context.Context, name, productID string, availableAt time.Time) (bool, error) {
	if _, err := r.Create(ctx, name, productID, availableAt); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Reset re-arms a record to NOT_STARTED ahead of a fresh download attempt,
// clearing both timestamps and the fail message. Records currently
// IN_PROGRESS are refused with storage.ErrInProgress.
func (r *StatusRepository) Reset(ctx context.Context, name string) error {
	mu := r.locks.For(name)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.get(ctx, name)
	if err != nil {
		return err
	}

	if rec.Status == storage.InProgress {
		return fmt.Errorf("%q: %w", name, storage.ErrInProgress)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET status = ?, download_start = NULL, download_stop = NULL, status_fail_message = NULL WHERE name = ?`,
		storage.NotStarted.String(), name,
	)

	return err
}

// Transition moves a record to the given status under its per-record lock and
// returns the refreshed record. Entering IN_PROGRESS stamps download_start
// and clears the rest; entering DONE or FAILED stamps download_stop; only
// FAILED carries a fail message.
func (r *StatusRepository) Transition(ctx context.Context, name string, to storage.DownloadStatus, failMessage string) (*storage.ProductRecord, error) {
	mu := r.locks.For(name)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.get(ctx, name); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(timeLayout)

	var err error

	switch to {
	case storage.InProgress:
		_, err = r.db.ExecContext(ctx,
			`UPDATE `+r.table+` SET status = ?, download_start = ?, download_stop = NULL, status_fail_message = NULL WHERE name = ?`,
			to.String(), now, name)
	case storage.Done:
		_, err = r.db.ExecContext(ctx,
			`UPDATE `+r.table+` SET status = ?, download_stop = ?, status_fail_message = NULL WHERE name = ?`,
			to.String(), now, name)
	case storage.Failed:
		_, err = r.db.ExecContext(ctx,
			`UPDATE `+r.table+` SET status = ?, download_stop = ?, status_fail_message = ? WHERE name = ?`,
			to.String(), now, failMessage, name)
	default:
		return nil, fmt.Errorf("cannot transition %q to %s", name, to)
	}

	if err != nil {
		return nil, err
	}

	return r.get(ctx, name)
}

func (r *StatusRepository) get(ctx context.Context, name string) (*storage.ProductRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT db_id, product_id, name, available_at_station, download_start, download_stop, status, status_fail_message
		FROM `+r.table+` WHERE name = ?`, name)

	var (
		rec         storage.ProductRecord
		availableAt string
		start, stop sql.NullString
		status      string
		failMessage sql.NullString
	)

	err := row.Scan(&rec.DBID, &rec.ProductID, &rec.Name, &availableAt, &start, &stop, &status, &failMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, storage.ErrNotFound)
	}

	if err != nil {
		return nil, err
	}

	if rec.AvailableAt, err = time.Parse(timeLayout, availableAt); err != nil {
		return nil, fmt.Errorf("parsing available_at_station: %w", err)
	}

	if rec.DownloadStart, err = parseNullTime(start); err != nil {
		return nil, fmt.Errorf("parsing download_start: %w", err)
	}

	if rec.DownloadStop, err = parseNullTime(stop); err != nil {
		return nil, fmt.Errorf("parsing download_stop: %w", err)
	}

	if rec.Status, err = storage.ParseStatus(status); err != nil {
		return nil, err
	}

	if failMessage.Valid {
		rec.FailMessage = &failMessage.String
	}

	return &rec, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}

	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

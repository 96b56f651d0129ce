package storage

import (
	"context"
	"errors"
	"time"
)

// Errors reported by StatusStore implementations.
var (
	ErrNotFound   = errors.New("product not found")
	ErrConflict   = errors.New("product already tracked")
	ErrInProgress = errors.New("download in progress")
)

// ProductRecord tracks the download lifecycle of a single station product.
// DownloadStart is stamped only when entering IN_PROGRESS, DownloadStop only
// when entering FAILED or DONE, and FailMessage is non-nil exactly when the
// status is FAILED.
type ProductRecord struct {
	DBID          int64          `json:"db_id"`
	ProductID     string         `json:"product_id"`
	Name          string         `json:"name"`
	AvailableAt   time.Time      `json:"available_at_station"`
	DownloadStart *time.Time     `json:"download_start"`
	DownloadStop  *time.Time     `json:"download_stop"`
	Status        DownloadStatus `json:"status"`
	FailMessage   *string        `json:"status_fail_message"`
}

// StatusStore is the persistence contract for product download statuses.
// Records are owned by the store; callers keep only names and must go through
// Transition so every mutation happens on freshly loaded state under the
// record's lock.
type StatusStore interface {
	Get(ctx context.Context, name string) (*ProductRecord, error)
	Create(ctx context.Context, name, productID string, availableAt time.Time) (*ProductRecord, error)
	CreateIfMissing(ctx context.Context, name, productID string, availableAt time.Time) (bool, error)
	Reset(ctx context.Context, name string) error
	Transition(ctx context.Context, name string, to DownloadStatus, failMessage string) (*ProductRecord, error)
}

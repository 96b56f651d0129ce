package provider

import (
	"context"
	"fmt"
	"time"
)

// Product is one downloadable item published by a station: an auxiliary file
// for ADGS, a whole acquisition session for CADIP.
type Product struct {
	ID          string
	Name        string
	AvailableAt time.Time
	Size        int64
}

// TimeRange bounds a publication-date search.
type TimeRange struct {
	Start time.Time
	Stop  time.Time
}

func (tr TimeRange) Validate() error {
	if tr.Stop.Before(tr.Start) {
		return fmt.Errorf("invalid time range: stop %s before start %s",
			tr.Stop.Format(time.RFC3339), tr.Start.Format(time.RFC3339))
	}

	return nil
}

// Provider is a remote station catalog: search products by publication window
// and download one product into a destination directory.
type Provider interface {
	Search(ctx context.Context, tr TimeRange) ([]Product, error)
	Download(ctx context.Context, p Product, destDir string) error
}

// Resolver resolves station names to providers.
type Resolver interface {
	Resolve(station string) (Provider, error)
}

package provider

import (
	"context"

	"github.com/copernicus-rs/rs-server/internal/telemetry"
)

// Instrumented decorates a Provider with spans and station metrics.
type Instrumented struct {
	inner     Provider
	station   string
	telemetry *telemetry.Telemetry
}

func NewInstrumented(inner Provider, station string, tel *telemetry.Telemetry) *Instrumented {
	return &Instrumented{
		inner:     inner,
		station:   station,
		telemetry: tel,
	}
}

func (p *Instrumented) Search(ctx context.Context, tr TimeRange) ([]Product, error) {
	var products []Product

	err := p.telemetry.InstrumentStationOperation(ctx, p.station, "search", func(ctx context.Context) error {
		var searchErr error
		products, searchErr = p.inner.Search(ctx, tr)

		return searchErr
	})
	if err != nil {
		return nil, err
	}

	return products, nil
}

func (p *Instrumented) Download(ctx context.Context, product Product, destDir string) error {
	return p.telemetry.InstrumentStationOperation(ctx, p.station, "download", func(ctx context.Context) error {
		return p.inner.Download(ctx, product, destDir)
	})
}

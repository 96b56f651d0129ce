// Package auxip implements the OData client of ADGS auxiliary-data stations.
package auxip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/provider"
)

const odataTimeLayout = "2006-01-02T15:04:05.000Z"

// searchPageSize caps how many products one catalog query returns.
const searchPageSize = 1000

// Client talks to one auxiliary-data station.
type Client struct {
	station string
	baseURL string
	hc      *http.Client
}

func NewClient(station, baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Client{
		station: station,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		hc:      hc,
	}
}

type productEntity struct {
	ID              string    `json:"Id"`
	Name            string    `json:"Name"`
	ContentLength   int64     `json:"ContentLength"`
	PublicationDate time.Time `json:"PublicationDate"`
}

type productFeed struct {
	Value []productEntity `json:"value"`
}

// Search lists the auxiliary files published inside the window.
func (c *Client) Search(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := tr.Validate(); err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}

	filter := fmt.Sprintf("PublicationDate gt %s and PublicationDate lt %s",
		tr.Start.UTC().Format(odataTimeLayout), tr.Stop.UTC().Format(odataTimeLayout))

	q := url.Values{}
	q.Set("$filter", filter)
	q.Set("$top", fmt.Sprintf("%d", searchPageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/Products?"+q.Encode(), nil)
	if err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &provider.AuthenticationError{
			Operation: "search",
			Err:       fmt.Errorf("station answered %d", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &provider.SearchError{
			Station: c.station,
			Err:     fmt.Errorf("station answered %d", resp.StatusCode),
		}
	}

	var feed productFeed
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}

	products := make([]provider.Product, 0, len(feed.Value))
	for _, e := range feed.Value {
		products = append(products, provider.Product{
			ID:          e.ID,
			Name:        e.Name,
			AvailableAt: e.PublicationDate,
			Size:        e.ContentLength,
		})
	}

	logger.DebugContext(ctx, "station search finished",
		"station", c.station, "product_count", len(products))

	return products, nil
}

// Download streams the product payload into destDir under the product name.
func (c *Client) Download(ctx context.Context, p provider.Product, destDir string) error {
	logger := logctx.LoggerFromContext(ctx)

	endpoint := fmt.Sprintf("%s/Products(%s)/$value", c.baseURL, p.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &provider.DownloadError{Product: p.Name, Err: err}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &provider.DownloadError{Product: p.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &provider.AuthenticationError{
			Operation: "download",
			Err:       fmt.Errorf("station answered %d", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return &provider.DownloadError{
			Product: p.Name,
			Err:     fmt.Errorf("station answered %d", resp.StatusCode),
		}
	}

	size := p.Size
	if size <= 0 {
		size = resp.ContentLength
	}

	target := filepath.Join(destDir, p.Name)

	if err := provider.SaveStream(ctx, resp.Body, target, size); err != nil {
		return &provider.DownloadError{Product: p.Name, Err: err}
	}

	logger.InfoContext(ctx, "product downloaded from station",
		"station", c.station, "product", p.Name, "target", target)

	return nil
}

// Package cadip implements the OData client of CADIP ground stations. A CADIP
// product is a whole acquisition session made of many chunk files, downloaded
// in parallel into a session directory.
package cadip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/copernicus-rs/rs-server/internal/logctx"
	"github.com/copernicus-rs/rs-server/internal/provider"
)

const odataTimeLayout = "2006-01-02T15:04:05.000Z"

// Client talks to one CADIP station.
type Client struct {
	station     string
	baseURL     string
	hc          *http.Client
	maxParallel int
}

func NewClient(station, baseURL string, hc *http.Client, maxParallel int) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Client{
		station:     station,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		hc:          hc,
		maxParallel: maxParallel,
	}
}

type sessionEntity struct {
	ID              string    `json:"Id"`
	SessionID       string    `json:"SessionId"`
	Satellite       string    `json:"Satellite"`
	PublicationDate time.Time `json:"PublicationDate"`
}

type sessionFeed struct {
	Value []sessionEntity `json:"value"`
}

type fileEntity struct {
	ID        string `json:"Id"`
	Name      string `json:"Name"`
	SessionID string `json:"SessionID"`
	Size      int64  `json:"Size"`
}

type fileFeed struct {
	Value []fileEntity `json:"value"`
}

// Search lists the sessions published inside the window. The session
// identifier doubles as the product name.
func (c *Client) Search(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := tr.Validate(); err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}

	filter := fmt.Sprintf("PublicationDate gt %s and PublicationDate lt %s",
		tr.Start.UTC().Format(odataTimeLayout), tr.Stop.UTC().Format(odataTimeLayout))

	var feed sessionFeed
	if err := c.getJSON(ctx, "/Sessions", url.Values{"$filter": []string{filter}}, &feed); err != nil {
		return nil, &provider.SearchError{Station: c.station, Err: err}
	}

	products := make([]provider.Product, 0, len(feed.Value))
	for _, e := range feed.Value {
		products = append(products, provider.Product{
			ID:          e.ID,
			Name:        e.SessionID,
			AvailableAt: e.PublicationDate,
		})
	}

	logger.DebugContext(ctx, "station search finished",
		"station", c.station, "session_count", len(products))

	return products, nil
}

// Download retrieves every chunk file of the session into destDir/<session>,
// bounded by maxParallel concurrent transfers.
func (c *Client) Download(ctx context.Context, p provider.Product, destDir string) error {
	logger := logctx.LoggerFromContext(ctx)

	files, err := c.sessionFiles(ctx, p.Name)
	if err != nil {
		return &provider.DownloadError{Product: p.Name, Err: err}
	}

	if len(files) == 0 {
		return &provider.DownloadError{
			Product: p.Name,
			Err:     fmt.Errorf("no files published for session"),
		}
	}

	sessionDir := filepath.Join(destDir, p.Name)

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, c.maxParallel)

	for i := range files {
		file := files[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }()

			if err := c.downloadFile(ctx, file, sessionDir); err != nil {
				logger.ErrorContext(ctx, "failed to download session file",
					"station", c.station, "session", p.Name, "file", file.Name, "err", err)

				return err
			}

			return nil
		})
	}

	if err := wg.Wait(); err != nil {
		return &provider.DownloadError{Product: p.Name, Err: err}
	}

	logger.InfoContext(ctx, "session downloaded from station",
		"station", c.station, "session", p.Name, "file_count", len(files))

	return nil
}

// sessionFiles lists the chunk files belonging to a session.
func (c *Client) sessionFiles(ctx context.Context, session string) ([]fileEntity, error) {
	filter := fmt.Sprintf("SessionID eq '%s'", session)

	var feed fileFeed
	if err := c.getJSON(ctx, "/Files", url.Values{"$filter": []string{filter}}, &feed); err != nil {
		return nil, err
	}

	return feed.Value, nil
}

func (c *Client) downloadFile(ctx context.Context, file fileEntity, sessionDir string) error {
	endpoint := fmt.Sprintf("%s/Files(%s)/$value", c.baseURL, file.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("station answered %d for file %s", resp.StatusCode, file.Name)
	}

	size := file.Size
	if size <= 0 {
		size = resp.ContentLength
	}

	return provider.SaveStream(ctx, resp.Body, filepath.Join(sessionDir, file.Name), size)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &provider.AuthenticationError{
			Operation: "query " + path,
			Err:       fmt.Errorf("station answered %d", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("station answered %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

package auxip_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/provider/auxip"
)

func testRange(t *testing.T) provider.TimeRange {
	t.Helper()

	return provider.TimeRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Products", r.URL.Path)
		assert.Equal(t,
			"PublicationDate gt 2024-01-01T00:00:00.000Z and PublicationDate lt 2024-01-02T00:00:00.000Z",
			r.URL.Query().Get("$filter"))
		assert.Equal(t, "1000", r.URL.Query().Get("$top"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value": [
			{"Id": "id-1", "Name": "AUX_ECMWFD.SAFE", "ContentLength": 1024, "PublicationDate": "2024-01-01T06:00:00.000Z"},
			{"Id": "id-2", "Name": "AUX_GNSSRD.SAFE", "ContentLength": 2048, "PublicationDate": "2024-01-01T18:30:00.000Z"}
		]}`)
	}))
	defer ts.Close()

	client := auxip.NewClient("adgs", ts.URL, nil)

	products, err := client.Search(context.Background(), testRange(t))
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "id-1", products[0].ID)
	assert.Equal(t, "AUX_ECMWFD.SAFE", products[0].Name)
	assert.Equal(t, int64(1024), products[0].Size)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), products[0].AvailableAt.UTC())
	assert.Equal(t, "AUX_GNSSRD.SAFE", products[1].Name)
}

func TestSearchRejectsInvalidRange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should reach the station for an invalid range")
	}))
	defer ts.Close()

	client := auxip.NewClient("adgs", ts.URL, nil)

	tr := provider.TimeRange{
		Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Stop:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := client.Search(context.Background(), tr)

	var searchErr *provider.SearchError
	require.ErrorAs(t, err, &searchErr)
	assert.Equal(t, "adgs", searchErr.Station)
}

func TestSearchAuthFailure(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(fmt.Sprintf("status %d", status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer ts.Close()

			client := auxip.NewClient("adgs", ts.URL, nil)

			_, err := client.Search(context.Background(), testRange(t))

			var authErr *provider.AuthenticationError
			assert.ErrorAs(t, err, &authErr)
		})
	}
}

func TestSearchStationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := auxip.NewClient("adgs", ts.URL, nil)

	_, err := client.Search(context.Background(), testRange(t))

	var searchErr *provider.SearchError
	require.ErrorAs(t, err, &searchErr)
	assert.Contains(t, err.Error(), "station answered 502")
}

func TestDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Products(id-1)/$value", r.URL.Path)
		fmt.Fprint(w, "auxiliary file payload")
	}))
	defer ts.Close()

	destDir := t.TempDir()
	client := auxip.NewClient("adgs", ts.URL, nil)

	product := provider.Product{ID: "id-1", Name: "AUX_ECMWFD.SAFE"}
	require.NoError(t, client.Download(context.Background(), product, destDir))

	data, err := os.ReadFile(filepath.Join(destDir, "AUX_ECMWFD.SAFE"))
	require.NoError(t, err)
	assert.Equal(t, "auxiliary file payload", string(data))
}

func TestDownloadCreatesTargetDir(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "payload")
	}))
	defer ts.Close()

	destDir := filepath.Join(t.TempDir(), "not", "yet", "there")
	client := auxip.NewClient("adgs", ts.URL, nil)

	product := provider.Product{ID: "id-1", Name: "AUX_ECMWFD.SAFE"}
	require.NoError(t, client.Download(context.Background(), product, destDir))

	assert.FileExists(t, filepath.Join(destDir, "AUX_ECMWFD.SAFE"))
}

func TestDownloadStationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := auxip.NewClient("adgs", ts.URL, nil)

	err := client.Download(context.Background(), provider.Product{ID: "id-1", Name: "AUX_A"}, t.TempDir())

	var downloadErr *provider.DownloadError
	require.ErrorAs(t, err, &downloadErr)
	assert.Equal(t, "AUX_A", downloadErr.Product)
	assert.Contains(t, err.Error(), "station answered 404")
}

func TestDownloadAuthFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	client := auxip.NewClient("adgs", ts.URL, nil)

	err := client.Download(context.Background(), provider.Product{ID: "id-1", Name: "AUX_A"}, t.TempDir())

	var authErr *provider.AuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/copernicus-rs/rs-server/internal/download"
	"github.com/copernicus-rs/rs-server/internal/provider"
	"github.com/copernicus-rs/rs-server/internal/storage"
)

// mockStatusStore implements storage.StatusStore for testing.
type mockStatusStore struct {
	getFunc             func(ctx context.Context, name string) (*storage.ProductRecord, error)
	createFunc          func(ctx context.Context, name, productID string, availableAt time.Time) (*storage.ProductRecord, error)
	createIfMissingFunc func(ctx context.Context, name, productID string, availableAt time.Time) (bool, error)
	resetFunc           func(ctx context.Context, name string) error

	getCalls     int
	createCalled bool
	trackedNames []string
}

func (m *mockStatusStore) Get(ctx context.Context, name string) (*storage.ProductRecord, error) {
	m.getCalls++
	if m.getFunc != nil {
		return m.getFunc(ctx, name)
	}

	return nil, storage.ErrNotFound
}

func (m *mockStatusStore) Create(ctx context.Context, name, productID string, availableAt time.Time) (*storage.ProductRecord, error) {
	m.createCalled = true
	if m.createFunc != nil {
		return m.createFunc(ctx, name, productID, availableAt)
	}

	return &storage.ProductRecord{Name: name, ProductID: productID, AvailableAt: availableAt, Status: storage.NotStarted}, nil
}

func (m *mockStatusStore) CreateIfMissing(ctx context.Context, name, productID string, availableAt time.Time) (bool, error) {
	m.trackedNames = append(m.trackedNames, name)
	if m.createIfMissingFunc != nil {
		return m.createIfMissingFunc(ctx, name, productID, availableAt)
	}

	return true, nil
}

func (m *mockStatusStore) Reset(ctx context.Context, name string) error {
	if m.resetFunc != nil {
		return m.resetFunc(ctx, name)
	}

	return nil
}

func (m *mockStatusStore) Transition(ctx context.Context, name string, to storage.DownloadStatus, failMessage string) (*storage.ProductRecord, error) {
	return &storage.ProductRecord{Name: name, Status: to}, nil
}

// mockRunner implements Runner for testing.
type mockRunner struct {
	retrieveFunc func(ctx context.Context, req download.Request, started func())

	retrieveCalled         bool
	lastRequest            download.Request
	markStartFailureCalled bool
	lastFailedRequest      download.Request
}

func (m *mockRunner) Retrieve(ctx context.Context, req download.Request, started func()) {
	m.retrieveCalled = true
	m.lastRequest = req

	if m.retrieveFunc != nil {
		m.retrieveFunc(ctx, req, started)
		return
	}

	started()
}

func (m *mockRunner) MarkStartFailure(ctx context.Context, req download.Request) {
	m.markStartFailureCalled = true
	m.lastFailedRequest = req
}

// mockResolver implements provider.Resolver for testing.
type mockResolver struct {
	resolveFunc func(station string) (provider.Provider, error)
	prov        provider.Provider
}

func (m *mockResolver) Resolve(station string) (provider.Provider, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(station)
	}

	if m.prov != nil {
		return m.prov, nil
	}

	return nil, &provider.UnknownStationError{Station: station}
}

// mockProvider implements provider.Provider for testing.
type mockProvider struct {
	searchFunc func(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error)
	lastRange  provider.TimeRange
}

func (m *mockProvider) Search(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error) {
	m.lastRange = tr
	if m.searchFunc != nil {
		return m.searchFunc(ctx, tr)
	}

	return nil, nil
}

func (m *mockProvider) Download(ctx context.Context, p provider.Product, destDir string) error {
	return nil
}

func newTestHandler(store *mockStatusStore, resolver provider.Resolver, runner Runner) *ProductHandler {
	return NewADGSHandler(store, resolver, download.NewLauncher(time.Second), runner)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))

	return body
}

func TestTriggerDownloadStartsWorker(t *testing.T) {
	store := &mockStatusStore{}
	runner := &mockRunner{}
	h := newTestHandler(store, &mockResolver{}, runner)

	req := httptest.NewRequest(http.MethodGet, "/?name=AUX_TEST_PRODUCT&local=%2Fdata%2Fout&obs=s3%3A%2F%2Fbucket%2Fprefix", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"started": "true"}, decodeBody(t, rec))
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.True(t, store.createCalled, "an unknown product should be tracked on first request")
	require.True(t, runner.retrieveCalled)
	require.Equal(t, download.Request{
		Station:   "adgs",
		Name:      "AUX_TEST_PRODUCT",
		ProductID: "AUX_TEST_PRODUCT",
		LocalDir:  "/data/out",
		ObsPath:   "s3://bucket/prefix",
	}, runner.lastRequest)
}

func TestTriggerDownloadRequiresName(t *testing.T) {
	h := newTestHandler(&mockStatusStore{}, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing name query parameter", decodeBody(t, rec)["detail"])
}

func TestTriggerDownloadTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	store := &mockStatusStore{}
	runner := &mockRunner{
		retrieveFunc: func(ctx context.Context, req download.Request, started func()) {
			<-release
		},
	}
	h := NewADGSHandler(store, &mockResolver{}, download.NewLauncher(20*time.Millisecond), runner)

	req := httptest.NewRequest(http.MethodGet, "/?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestTimeout, rec.Code)
	require.Equal(t, map[string]string{"started": "false"}, decodeBody(t, rec))
	require.True(t, runner.markStartFailureCalled, "a silent worker must be force-failed")
	require.Equal(t, "AUX_TEST_PRODUCT", runner.lastFailedRequest.Name)
}

func TestTriggerDownloadConflictWhenInProgress(t *testing.T) {
	store := &mockStatusStore{
		getFunc: func(ctx context.Context, name string) (*storage.ProductRecord, error) {
			return &storage.ProductRecord{Name: name, Status: storage.InProgress}, nil
		},
		resetFunc: func(ctx context.Context, name string) error {
			return storage.ErrInProgress
		},
	}
	runner := &mockRunner{}
	h := newTestHandler(store, &mockResolver{}, runner)

	req := httptest.NewRequest(http.MethodGet, "/?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, map[string]string{"started": "false"}, decodeBody(t, rec))
	require.False(t, runner.retrieveCalled, "no worker should launch while a download runs")
}

func TestTriggerDownloadStoreUnavailable(t *testing.T) {
	store := &mockStatusStore{
		getFunc: func(ctx context.Context, name string) (*storage.ProductRecord, error) {
			return nil, errors.New("database is locked")
		},
	}
	h := newTestHandler(store, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, map[string]string{"started": "false"}, decodeBody(t, rec))
}

func TestTriggerDownloadCreateRace(t *testing.T) {
	store := &mockStatusStore{}
	store.getFunc = func(ctx context.Context, name string) (*storage.ProductRecord, error) {
		if store.getCalls == 1 {
			return nil, storage.ErrNotFound
		}

		return &storage.ProductRecord{Name: name, ProductID: "raced-id", Status: storage.NotStarted}, nil
	}
	store.createFunc = func(ctx context.Context, name, productID string, availableAt time.Time) (*storage.ProductRecord, error) {
		return nil, storage.ErrConflict
	}

	runner := &mockRunner{}
	h := newTestHandler(store, &mockResolver{}, runner)

	req := httptest.NewRequest(http.MethodGet, "/?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, store.getCalls, "a lost create race should re-read the record")
	require.Equal(t, "raced-id", runner.lastRequest.ProductID)
}

func TestDownloadStatusFound(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	stop := start.Add(42 * time.Second)

	store := &mockStatusStore{
		getFunc: func(ctx context.Context, name string) (*storage.ProductRecord, error) {
			return &storage.ProductRecord{
				DBID:          7,
				ProductID:     "id-7",
				Name:          name,
				AvailableAt:   start,
				DownloadStart: &start,
				DownloadStop:  &stop,
				Status:        storage.Done,
			}, nil
		},
	}
	h := newTestHandler(store, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/status?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got storage.ProductRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Equal(t, "AUX_TEST_PRODUCT", got.Name)
	require.Equal(t, storage.Done, got.Status)
	require.NotNil(t, got.DownloadStop)
}

func TestDownloadStatusNotFound(t *testing.T) {
	h := newTestHandler(&mockStatusStore{}, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/status?name=AUX_TEST_PRODUCT", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "product AUX_TEST_PRODUCT is not tracked", decodeBody(t, rec)["detail"])
}

func TestDownloadStatusRequiresName(t *testing.T) {
	h := newTestHandler(&mockStatusStore{}, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchProductsTracksResults(t *testing.T) {
	published := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)

	prov := &mockProvider{
		searchFunc: func(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error) {
			return []provider.Product{
				{ID: "id-1", Name: "AUX_A", AvailableAt: published},
				{ID: "id-2", Name: "AUX_B", AvailableAt: published},
			}, nil
		},
	}

	store := &mockStatusStore{
		getFunc: func(ctx context.Context, name string) (*storage.ProductRecord, error) {
			return &storage.ProductRecord{Name: name, Status: storage.NotStarted}, nil
		},
	}
	h := newTestHandler(store, &mockResolver{prov: prov}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/search?datetime=2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got []storage.ProductRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	require.Equal(t, "AUX_A", got[0].Name)
	require.Equal(t, "AUX_B", got[1].Name)

	require.Equal(t, []string{"AUX_A", "AUX_B"}, store.trackedNames)
	require.True(t, prov.lastRange.Start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.True(t, prov.lastRange.Stop.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSearchProductsRejectsBadIntervals(t *testing.T) {
	cases := []struct {
		name  string
		query string
	}{
		{name: "missing datetime", query: "/search"},
		{name: "no separator", query: "/search?datetime=2024-01-01T00:00:00Z"},
		{name: "bad start", query: "/search?datetime=yesterday/2024-01-02T00:00:00Z"},
		{name: "bad stop", query: "/search?datetime=2024-01-01T00:00:00Z/tomorrow"},
		{name: "inverted range", query: "/search?datetime=2024-01-02T00:00:00Z/2024-01-01T00:00:00Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&mockStatusStore{}, &mockResolver{}, &mockRunner{})

			req := httptest.NewRequest(http.MethodGet, tc.query, nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSearchProductsUnknownStation(t *testing.T) {
	h := newTestHandler(&mockStatusStore{}, &mockResolver{}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/search?datetime=2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid station adgs", decodeBody(t, rec)["detail"])
}

func TestSearchProductsStationDown(t *testing.T) {
	prov := &mockProvider{
		searchFunc: func(ctx context.Context, tr provider.TimeRange) ([]provider.Product, error) {
			return nil, &provider.SearchError{Station: "adgs", Err: errors.New("status 502")}
		},
	}
	h := newTestHandler(&mockStatusStore{}, &mockResolver{prov: prov}, &mockRunner{})

	req := httptest.NewRequest(http.MethodGet, "/search?datetime=2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "station search failed", decodeBody(t, rec)["detail"])
}

func TestCADIPStationFromURL(t *testing.T) {
	store := &mockStatusStore{}
	runner := &mockRunner{}
	h := NewCADIPHandler(store, &mockResolver{}, download.NewLauncher(time.Second), runner)

	router := chi.NewRouter()
	router.Mount("/cadip/{station}/cadu", h.Routes())

	req := httptest.NewRequest(http.MethodGet, "/cadip/ins/cadu?name=DCS_01_SESSION", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ins", runner.lastRequest.Station, "the station must come from the URL")
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"status": "ok"}, decodeBody(t, rec))
}

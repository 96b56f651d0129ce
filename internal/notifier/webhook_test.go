package notifier_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copernicus-rs/rs-server/internal/notifier"
)

func TestNotifyDeliversEvent(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotAPIKey      string
		gotBody        []byte
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAPIKey = r.Header.Get("X-Api-Key")

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notifier.NewWebhookNotifier(server.URL, "secret-key")

	event := notifier.Event{
		Kind:    notifier.KindDownloadFailed,
		Station: "adgs",
		Product: "AUX_TEST_PRODUCT",
		Detail:  "Exception('boom')",
	}

	require.NoError(t, n.Notify(context.Background(), event))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "secret-key", gotAPIKey)

	var delivered notifier.Event
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	assert.Equal(t, event, delivered)
}

func TestNotifyOmitsEmptyDetail(t *testing.T) {
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := notifier.NewWebhookNotifier(server.URL, "")

	require.NoError(t, n.Notify(context.Background(), notifier.Event{
		Kind:    notifier.KindDownloadDone,
		Station: "adgs",
		Product: "AUX_TEST_PRODUCT",
	}))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.NotContains(t, payload, "detail")
}

func TestNotifySkipsAPIKeyHeaderWhenUnset(t *testing.T) {
	var hasKey bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasKey = r.Header["X-Api-Key"]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := notifier.NewWebhookNotifier(server.URL, "")

	require.NoError(t, n.Notify(context.Background(), notifier.Event{Kind: notifier.KindDownloadDone}))
	assert.False(t, hasKey)
}

func TestNotifyReceiverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	n := notifier.NewWebhookNotifier(server.URL, "")

	err := n.Notify(context.Background(), notifier.Event{Kind: notifier.KindDownloadDone})
	assert.EqualError(t, err, "webhook failed with status 500")
}

func TestNotifyMissingURL(t *testing.T) {
	n := notifier.NewWebhookNotifier("", "")

	err := n.Notify(context.Background(), notifier.Event{Kind: notifier.KindDownloadDone})
	assert.EqualError(t, err, "webhook URL is not set")
}

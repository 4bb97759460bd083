package ledger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/datalode/ledgersync/internal/config"
	"github.com/datalode/ledgersync/internal/domain/cursor"
	"github.com/datalode/ledgersync/internal/domain/ledger"
)

func newTestClient(address string) *Client {
	fetcher := NewClient(config.LedgerClient{
		Address:      address,
		FetchTimeout: time.Second,
		User: &config.BasicAuthUser{
			Name:     "svc",
			Password: "hunter2",
		},
	})
	return fetcher.(*Client)
}

func TestClient_Fetch_Ok(t *testing.T) {
	var capturedQuery map[string][]string
	var capturedUser string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		capturedQuery = r.URL.Query()
		capturedUser, _, _ = r.BasicAuth()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"events": [
				{
					"id": "ev-1",
					"stream": "marketplace",
					"type": "dataset_registered",
					"position": "10",
					"recorded_at": "2020-03-14T15:09:26Z",
					"attributes": {"content_id": "bafy1", "owner": "alice"}
				}
			],
			"next_cursor": "10",
			"has_more": true
		}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	batch, err := client.Fetch(context.Background(), "marketplace", cursor.Token("9"), 25)
	assert.NoError(t, err)
	assert.Len(t, batch.Events, 1)
	assert.Equal(t, "ev-1", batch.Events[0].ID)
	assert.Equal(t, cursor.Token("10"), batch.NextPosition)
	assert.True(t, batch.HasMore)

	assert.Equal(t, []string{"marketplace"}, capturedQuery["stream"])
	assert.Equal(t, []string{"9"}, capturedQuery["after"])
	assert.Equal(t, []string{"25"}, capturedQuery["limit"])
	assert.Equal(t, "svc", capturedUser)
}

func TestClient_Fetch_zeroTokenOmitsAfter(t *testing.T) {
	var capturedQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"events": [], "next_cursor": "", "has_more": false}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	batch, err := client.Fetch(context.Background(), "marketplace", cursor.Token(""), 25)
	assert.NoError(t, err)
	assert.Empty(t, batch.Events)
	assert.NotContains(t, capturedQuery, "after")
}

func TestClient_Fetch_statusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{name: "404 is permanent", status: 404, wantTransient: false},
		{name: "429 is transient", status: 429, wantTransient: true},
		{name: "500 is transient", status: 500, wantTransient: true},
		{name: "503 is transient", status: 503, wantTransient: true},
		{name: "401 is permanent", status: 401, wantTransient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.Fetch(context.Background(), "marketplace", cursor.Token(""), 25)
			assert.Error(t, err)
			if tt.wantTransient {
				assert.IsType(t, ledger.TransientFetchError{}, err)
			} else {
				assert.IsType(t, ledger.PermanentFetchError{}, err)
			}
		})
	}
}

func TestClient_Fetch_connectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing is listening anymore

	client := newTestClient(server.URL)
	_, err := client.Fetch(context.Background(), "marketplace", cursor.Token(""), 25)
	assert.Error(t, err)
	assert.IsType(t, ledger.TransientFetchError{}, err)
}

func TestClient_Fetch_malformedBodyIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events": [`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Fetch(context.Background(), "marketplace", cursor.Token(""), 25)
	assert.Error(t, err)
	assert.IsType(t, ledger.TransientFetchError{}, err)
}

package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestGetSetsDefaultHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "daktela-extractor/1.0", r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	c := NewHTTPClient(DefaultHTTPConfig(), zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestGetCustomHeadersWin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/csv", r.Header.Get("Accept"))
	}))
	defer srv.Close()

	c := NewHTTPClient(DefaultHTTPConfig(), zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Accept": "text/csv"})
	require.NoError(t, err)
	resp.Body.Close()
}

func TestPostMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
	}))
	defer srv.Close()

	c := NewHTTPClient(DefaultHTTPConfig(), zaptest.NewLogger(t))
	defer c.Close()

	resp, err := c.Post(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestStatsCountRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewHTTPClient(DefaultHTTPConfig(), zaptest.NewLogger(t))
	defer c.Close()

	for i := 0; i < 3; i++ {
		resp, err := c.Get(context.Background(), srv.URL, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}
	_, err := c.Get(context.Background(), "http://127.0.0.1:0", nil)
	require.Error(t, err)

	total, failed := c.Stats()
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(1), failed)
}

func TestNilConfigUsesDefaults(t *testing.T) {
	c := NewHTTPClient(nil, zaptest.NewLogger(t))
	defer c.Close()
	assert.Equal(t, "daktela-extractor/1.0", c.config.UserAgent)
}

package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_HTTPClient(t *testing.T) {
	t.Run("uses default client when nil", func(t *testing.T) {
		c := &Client{}
		assert.Same(t, http.DefaultClient, c.httpClient())
	})

	t.Run("New sets a timeout", func(t *testing.T) {
		c := New()
		assert.Equal(t, 30*time.Second, c.httpClient().Timeout)
	})
}

func TestClient_PostForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		assert.NoError(t, err)
		assert.Equal(t, "service::user.auth.xboxlive.com::MBI_SSL", values.Get("scope"))
		assert.Contains(t, string(body), "scope=service%3A%3Auser.auth.xboxlive.com%3A%3AMBI_SSL")

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := New().PostForm(context.Background(), server.URL, url.Values{
		"scope": {"service::user.auth.xboxlive.com::MBI_SSL"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "1", r.Header.Get("x-xbl-contract-version"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	h := http.Header{}
	h.Set("x-xbl-contract-version", "1")
	resp, err := (&Client{UserAgent: "test"}).PostJSON(context.Background(), server.URL, []byte(`{"a":1}`), h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.False(t, resp.OK())
	assert.Empty(t, h.Get("Content-Type"), "caller headers must not be mutated")
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "keep", r.URL.Query().Get("existing"))
		assert.Equal(t, "D 1&x", r.URL.Query().Get("device_code"))
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	resp, err := New().Get(context.Background(), server.URL+"/token?existing=keep", nil, url.Values{
		"device_code": {"D 1&x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL + "/token?device_code=secret"
	server.Close()

	_, err := New().Get(context.Background(), endpoint, nil, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestClient_LimitsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", maxResponseBytes+100)))
	}))
	defer server.Close()

	resp, err := New().Post(context.Background(), server.URL, nil, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, maxResponseBytes)
}

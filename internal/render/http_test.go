package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeRenderService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
	})
	mux.HandleFunc("POST /sessions/sess-1/navigate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /sessions/sess-1/wait", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /sessions/sess-1/evaluate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]json.RawMessage{"result": json.RawMessage(`{"title":"Model X"}`)})
	})
	mux.HandleFunc("GET /sessions/sess-1/dom", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"html": "<html><body>ok</body></html>"})
	})
	mux.HandleFunc("DELETE /sessions/sess-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return httptest.NewServer(mux)
}

func TestHTTPRenderer_FullSessionLifecycle(t *testing.T) {
	srv := newFakeRenderService(t)
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, "test-secret")
	ctx := context.Background()

	session, err := r.Open(ctx)
	require.NoError(t, err)

	require.NoError(t, session.Navigate(ctx, "https://oem-a.example/configurator"))
	require.NoError(t, session.WaitForLoad(ctx, 5*time.Second))

	var out struct {
		Title string `json:"title"`
	}
	require.NoError(t, session.Evaluate(ctx, "document.title", &out))
	assert.Equal(t, "Model X", out.Title)

	dom, err := session.DOM(ctx)
	require.NoError(t, err)
	assert.Contains(t, dom, "ok")

	require.NoError(t, session.Close(ctx))
}

func TestHTTPRenderer_OpenFailurePropagatesError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, "test-secret")
	_, err := r.Open(context.Background())
	assert.Error(t, err)
}

func TestHTTPRenderer_DrainInterceptedIsBestEffort(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-1"})
	})
	mux.HandleFunc("POST /sessions/sess-1/intercepted/drain", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := NewHTTPRenderer(srv.URL, "test-secret")
	session, err := r.Open(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		responses := session.DrainIntercepted()
		assert.Empty(t, responses)
	})
}

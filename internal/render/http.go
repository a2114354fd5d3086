package render

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// HTTPRenderer talks to a remote render service over a small REST contract
// (POST /sessions, /sessions/{id}/navigate, .../wait, .../evaluate,
// .../screenshot, .../dom, .../intercepted/drain, DELETE /sessions/{id}), wrapped
// in a circuit breaker so a wedged renderer stops taking new sessions
// instead of queuing workers behind it indefinitely.
type HTTPRenderer struct {
	baseURL string
	secret  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPRenderer returns a Renderer backed by the service at baseURL,
// authenticating with secret via a bearer token.
func NewHTTPRenderer(baseURL, secret string) *HTTPRenderer {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "renderer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &HTTPRenderer{
		baseURL: baseURL,
		secret:  secret,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConnsPerHost:   10,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		breaker: cb,
	}
}

// Open starts a new browser session, tripping the circuit breaker on
// repeated session-create failures so later callers fail fast.
func (r *HTTPRenderer) Open(ctx context.Context) (Session, error) {
	result, err := r.breaker.Execute(func() (any, error) {
		var resp struct {
			SessionID string `json:"sessionId"`
		}
		if err := r.do(ctx, http.MethodPost, "/sessions", nil, &resp); err != nil {
			return nil, err
		}
		return resp.SessionID, nil
	})
	if err != nil {
		return nil, fmt.Errorf("render: open session: %w", err)
	}
	return &httpSession{renderer: r, id: result.(string), correlationID: uuid.NewString()}, nil
}

func (r *HTTPRenderer) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.secret)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("render: %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type httpSession struct {
	renderer      *HTTPRenderer
	id            string
	correlationID string
}

func (s *httpSession) Navigate(ctx context.Context, url string) error {
	return s.renderer.do(ctx, http.MethodPost, "/sessions/"+s.id+"/navigate", map[string]string{"url": url}, nil)
}

func (s *httpSession) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	return s.renderer.do(ctx, http.MethodPost, "/sessions/"+s.id+"/wait", map[string]int64{"timeoutMs": timeout.Milliseconds()}, nil)
}

func (s *httpSession) Evaluate(ctx context.Context, expression string, out any) error {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := s.renderer.do(ctx, http.MethodPost, "/sessions/"+s.id+"/evaluate", map[string]string{"expression": expression}, &resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

func (s *httpSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var resp struct {
		PNGBase64 []byte `json:"pngBase64"`
	}
	if err := s.renderer.do(ctx, http.MethodPost, "/sessions/"+s.id+"/screenshot", nil, &resp); err != nil {
		return nil, err
	}
	return resp.PNGBase64, nil
}

func (s *httpSession) DOM(ctx context.Context) (string, error) {
	var resp struct {
		HTML string `json:"html"`
	}
	if err := s.renderer.do(ctx, http.MethodGet, "/sessions/"+s.id+"/dom", nil, &resp); err != nil {
		return "", err
	}
	return resp.HTML, nil
}

func (s *httpSession) DrainIntercepted() []InterceptedResponse {
	var resp struct {
		Responses []InterceptedResponse `json:"responses"`
	}
	// Best-effort: a drain failure loses this batch of intercepted
	// responses, not the session itself.
	_ = s.renderer.do(context.Background(), http.MethodPost, "/sessions/"+s.id+"/intercepted/drain", nil, &resp)
	return resp.Responses
}

func (s *httpSession) Close(ctx context.Context) error {
	return s.renderer.do(ctx, http.MethodDelete, "/sessions/"+s.id, nil, nil)
}

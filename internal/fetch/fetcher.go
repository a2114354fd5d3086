// Package fetch performs the cheap check: a short-timeout GET of a
// SourcePage's URL, robots.txt compliant, producing a normalized HTML string
// and its SHA-256 fingerprint. It never renders JavaScript — that is the
// external Renderer's job, dispatched only when the scheduler escalates.
package fetch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"
)

// Result is the cheap check's output. Per spec this is the only thing
// relevant upstream of the fetch: the raw body is kept only long enough to
// normalize and is not retained on the struct.
type Result struct {
	URL            string
	StatusCode     int
	Fingerprint    string
	NormalizedHTML string
	FetchedAt      time.Time
	ContentType    string
}

// Policy configures a Fetcher's timeout, user agent, and robots compliance.
type Policy struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	if p.UserAgent == "" {
		p.UserAgent = "oem-agent-sub002/1.0 (+monitoring)"
	}
	return p
}

// Fetcher performs cheap checks over HTTP using a colly collector.
// Collectors are not safe to reuse across goroutines making concurrent
// requests to the same instance, so Fetcher builds a short-lived collector
// per Fetch call; the cost is dominated by network I/O, not collector setup.
type Fetcher struct {
	policy Policy
}

// New returns a Fetcher with the given policy, defaults filled in.
func New(policy Policy) *Fetcher {
	return &Fetcher{policy: policy.withDefaults()}
}

// Fetch retrieves rawURL and returns its normalized HTML and fingerprint.
// It respects robots.txt when the policy requests it and never follows more
// than one hop — the cheap check is a single-page GET, not a crawl.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: invalid url %q: %w", rawURL, err)
	}

	c := colly.NewCollector(
		colly.UserAgent(f.policy.UserAgent),
		colly.Debugger(&debug.LogDebugger{}),
	)
	c.IgnoreRobotsTxt = !f.policy.RespectRobots
	c.SetRequestTimeout(f.policy.Timeout)

	var res Result
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		res.StatusCode = r.StatusCode
		res.ContentType = r.Headers.Get("Content-Type")
		normalized := Normalize(string(r.Body))
		res.NormalizedHTML = normalized
		res.Fingerprint = Fingerprint(normalized)
	})

	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = &HTTPError{URL: rawURL, StatusCode: status, Err: err}
	})

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if err := c.Visit(u.String()); err != nil {
		return Result{}, &HTTPError{URL: rawURL, Err: err}
	}
	if fetchErr != nil {
		return Result{}, fetchErr
	}

	res.URL = rawURL
	res.FetchedAt = time.Now()
	return res, nil
}

// HTTPError is a permanent fetch failure: DNS, TLS, connection refused, or a
// non-2xx/3xx status. The scheduler records it via ApplyFetchFailure and
// never retries on its own (spec §4.1).
type HTTPError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

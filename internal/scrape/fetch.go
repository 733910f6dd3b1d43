package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/civicdata/district-offices/internal/resilience"
)

// Fetcher retrieves a contact page. Implementations must be safe for
// concurrent use; the pipeline fans out across units.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document is a fetched page.
type Document struct {
	URL         string
	Body        []byte
	ContentType string
	StatusCode  int
	FetchedAt   time.Time
}

// Options tunes the HTTP fetcher. Zero values get defaults.
type Options struct {
	Timeout        time.Duration
	UserAgent      string
	RequestsPerSec float64
	MaxBodyBytes   int64
	Retry          resilience.RetryConfig
}

// HTTPFetcher fetches pages over net/http with a global rate limit.
// All target sites are government pages; one request per second is
// polite and plenty for the workload.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBytes  int64
	retry     resilience.RetryConfig
}

func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "district-offices/1.0 (contact data pipeline)"
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1.0
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 << 20
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		userAgent: opts.UserAgent,
		maxBytes:  opts.MaxBodyBytes,
		retry:     opts.Retry,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*Document, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scrape: rate limit wait")
		}
		return f.fetchOnce(ctx, url)
	})
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: create request %s", url)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: fetch %s", url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		err := eris.Errorf("scrape: %s returned status %d", url, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: read body %s", url)
	}
	if len(body) == 0 {
		return nil, eris.Errorf("scrape: %s returned empty body", url)
	}

	return &Document{
		URL:         url,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

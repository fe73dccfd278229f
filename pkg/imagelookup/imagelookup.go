// Package imagelookup finds a picture for a mare on a Philomena-style image
// board (derpibooru by default).
package imagelookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nitkach/mares/pkg/errmodel"
)

// DefaultSearchURL is the image search endpoint used when none is configured.
const DefaultSearchURL = "https://derpibooru.org/api/v1/json/search/images"

// DefaultUserAgent identifies the service to the image board.
const DefaultUserAgent = "MareWebsite/1.0 (+https://github.com/nitkach/mares)"

// Image is the picked search hit.
type Image struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// Finder looks up one image for a name. ok is false when nothing matched.
type Finder interface {
	Find(ctx context.Context, name string) (img Image, ok bool, err error)
}

// Client queries the search API.
type Client struct {
	http       *http.Client
	searchURL  string
	userAgent  string
	backoff    time.Duration
	maxRetries uint64
}

// Option configures a Client.
type Option func(*Client)

// WithSearchURL overrides the search endpoint.
func WithSearchURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.searchURL = u
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRetry sets the Fibonacci base delay and the retry budget for transient failures.
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoff = base
		}
		c.maxRetries = maxRetries
	}
}

// New constructs a Client with tracing on the outbound transport.
func New(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		searchURL:  DefaultSearchURL,
		userAgent:  DefaultUserAgent,
		backoff:    250 * time.Millisecond,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchResponse struct {
	Images []struct {
		ID              int64 `json:"id"`
		Representations struct {
			Medium string `json:"medium"`
		} `json:"representations"`
	} `json:"images"`
}

// Query builds the search expression for a mare name.
func Query(name string) string {
	return fmt.Sprintf("score.gte:100, %s, pony, mare, !irl", name)
}

// Find asks for one random, well-scored image tagged with name.
func (c *Client) Find(ctx context.Context, name string) (Image, bool, error) {
	ctx, span := otel.Tracer("imagelookup").Start(ctx, "Client.Find", trace.WithAttributes(attribute.String("mare.name", name)))
	defer span.End()

	u, err := url.Parse(c.searchURL)
	if err != nil {
		return Image{}, false, errmodel.Wrap(errmodel.CategorySystem, "bad_search_url", "image search url is invalid", nil, err)
	}
	q := u.Query()
	q.Set("per_page", "1")
	q.Set("sf", "random")
	q.Set("q", Query(name))
	u.RawQuery = q.Encode()

	var resp searchResponse
	b := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		return c.fetch(ctx, u.String(), &resp)
	})
	if err != nil {
		span.RecordError(err)
		return Image{}, false, errmodel.Upstream("image_lookup_failed", "image search failed", map[string]any{"name": name}, err)
	}
	if len(resp.Images) == 0 {
		return Image{}, false, nil
	}
	hit := resp.Images[len(resp.Images)-1]
	span.SetAttributes(attribute.Int64("image.id", hit.ID))
	return Image{ID: hit.ID, URL: hit.Representations.Medium}, true, nil
}

func (c *Client) fetch(ctx context.Context, target string, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, res.Body)
		return retry.RetryableError(fmt.Errorf("image search: status %d", res.StatusCode))
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("image search: status %d", res.StatusCode)
	}
	*out = searchResponse{}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("image search: decode: %w", err)
	}
	return nil
}

package dl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

const (
	defaultRequestTimeout  = 120 * time.Second
	defaultDownloadTimeout = 300 * time.Second
	defaultConnectTimeout  = 10 * time.Second
	defaultChunkSize       = 8192
	defaultMaxRetries      = 2
	defaultBackoffFactor   = 1.0
	defaultMaxRedirects    = 5
	defaultUserAgent       = "TgMusicBot/1.0"
	maxBodySize            = 8 << 20
	apiKeyHeader           = "X-API-Key"
)

var (
	ErrEmptyURL         = errors.New("empty url")
	ErrClientClosed     = errors.New("http client is closed")
	ErrInvalidJSON      = errors.New("invalid json response")
	ErrRetriesExhausted = errors.New("all retries failed")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Options configures a Client. Zero values fall back to defaults, except
// BackoffFactor: zero disables the pause between attempts and only a negative
// factor is replaced by the default.
type Options struct {
	APIURL          string
	APIKey          string
	UserAgent       string
	DownloadsDir    string
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	MaxRetries      int
	BackoffFactor   float64
	ChunkSize       int
	MaxRedirects    int
	Recorder        Recorder
	// HTTPClient replaces the pooled client built by NewClient. It is copied, so the
	// caller's value is never modified. Its Timeout should be zero since every call
	// carries its own deadline.
	HTTPClient *http.Client
}

// Client is a long-lived HTTP session shared by concurrent requests.
// It must be released with Close once its owner is done with it.
type Client struct {
	opts         Options
	http         *http.Client
	nextRedirect func(req *http.Request, via []*http.Request) error
	apiOrigin    string
	recorder     Recorder
	sleep        func(ctx context.Context, d time.Duration) error
	closed       atomic.Bool
}

// NewClient builds a Client with a pooled transport.
func NewClient(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = defaultDownloadTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BackoffFactor < 0 {
		opts.BackoffFactor = defaultBackoffFactor
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.DownloadsDir == "" {
		opts.DownloadsDir = "downloads"
	}

	c := &Client{
		opts:      opts,
		apiOrigin: origin(opts.APIURL),
		recorder:  opts.Recorder,
		sleep:     sleepCtx,
	}
	if c.recorder == nil {
		c.recorder = LogRecorder{}
	}

	if opts.HTTPClient != nil {
		hc := *opts.HTTPClient
		c.http = &hc
		c.nextRedirect = opts.HTTPClient.CheckRedirect
	} else {
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSHandshakeTimeout:   defaultConnectTimeout,
				ResponseHeaderTimeout: opts.RequestTimeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
			},
		}
	}
	c.http.CheckRedirect = c.checkRedirect
	return c
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.http.CloseIdleConnections()
		gologging.DebugF("The HTTP session has been closed.")
	}
	return nil
}

// DownloadsDir is the directory used when DownloadFile derives the destination.
func (c *Client) DownloadsDir() string {
	return c.opts.DownloadsDir
}

// checkRedirect caps redirects and never forwards the API key to a foreign origin.
// A redirect policy of a caller-supplied http.Client runs afterwards.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.opts.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", c.opts.MaxRedirects)
	}
	if c.apiOrigin == "" || origin(req.URL.String()) != c.apiOrigin {
		req.Header.Del(apiKeyHeader)
	}
	if c.nextRedirect != nil {
		return c.nextRedirect(req, via)
	}
	return nil
}

// RequestOption tweaks a single GetJSON or GetText call.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers       http.Header
	maxRetries    int
	backoffFactor float64
}

// WithHeader adds a header to the request. A caller-set User-Agent wins over the default.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.headers.Set(key, value)
	}
}

// WithRetries overrides the attempt count and backoff factor for one call.
func WithRetries(maxRetries int, backoffFactor float64) RequestOption {
	return func(o *requestOptions) {
		if maxRetries > 0 {
			o.maxRetries = maxRetries
		}
		if backoffFactor >= 0 {
			o.backoffFactor = backoffFactor
		}
	}
}

func (c *Client) requestOptions(opts []RequestOption) requestOptions {
	o := requestOptions{
		headers:       make(http.Header),
		maxRetries:    c.opts.MaxRetries,
		backoffFactor: c.opts.BackoffFactor,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// headersFor builds the outgoing headers for rawURL. The API key is only attached
// when rawURL shares the configured API origin.
func (c *Client) headersFor(rawURL string, base http.Header) http.Header {
	headers := base.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	if c.apiOrigin != "" && c.opts.APIKey != "" && origin(rawURL) == c.apiOrigin {
		headers.Set(apiKeyHeader, c.opts.APIKey)
	}
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", c.opts.UserAgent)
	}
	return headers
}

// GetJSON performs a GET with retry and decodes the JSON body into out.
// A 2xx body that is not JSON fails with ErrInvalidJSON and is not retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any, opts ...RequestOption) error {
	body, err := c.fetch(ctx, cache.AttemptJSON, rawURL, c.requestOptions(opts))
	if err != nil {
		return err
	}
	if err := decodeJSON(body, out); err != nil {
		gologging.ErrorF("Invalid JSON response from %s: %v", rawURL, err)
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

// GetText performs a GET with the same retry policy as GetJSON and returns the body.
func (c *Client) GetText(ctx context.Context, rawURL string, opts ...RequestOption) (string, error) {
	body, err := c.fetch(ctx, cache.AttemptText, rawURL, c.requestOptions(opts))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// fetch runs up to o.maxRetries attempts, sleeping backoffFactor * 2^attempt seconds
// between them. Retryable statuses and network errors are retried; everything else
// returns at once.
func (c *Client) fetch(ctx context.Context, kind, rawURL string, o requestOptions) ([]byte, error) {
	if rawURL == "" {
		gologging.WarnF("Empty URL provided")
		return nil, ErrEmptyURL
	}
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	headers := c.headersFor(rawURL, o.headers)

	var lastErr error
	for attempt := 0; attempt < o.maxRetries; attempt++ {
		body, err := c.attempt(ctx, kind, rawURL, headers, attempt)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var statusErr *StatusError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &statusErr):
			gologging.WarnF("HTTP %d error for %s: %s", statusErr.Code, rawURL, statusErr.Body)
			if !statusErr.Retryable() {
				return nil, err
			}
		default:
			gologging.WarnF("Request failed for %s: %v", rawURL, err)
		}

		if attempt == o.maxRetries-1 {
			break
		}
		if err := c.sleep(ctx, backoff(o.backoffFactor, attempt)); err != nil {
			return nil, err
		}
	}

	gologging.ErrorF("All retries failed for URL: %s", rawURL)
	return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// attempt issues one bounded GET and reads a 2xx body.
func (c *Client) attempt(ctx context.Context, kind, rawURL string, headers http.Header, n int) (body []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	status := 0
	defer func() {
		c.record(kind, rawURL, n, status, start, err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers.Clone()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read the response body: %w", err)
	}
	gologging.DebugF("Request to %s succeeded in %.2fs", rawURL, time.Since(start).Seconds())
	return body, nil
}

// DownloadOption tweaks a single DownloadFile call.
type DownloadOption func(*downloadOptions)

type downloadOptions struct {
	inferExt bool
}

// WithInferredExtension treats an extensionless destPath as a stem: the extension
// is taken from the response's Content-Disposition or Content-Type, and any
// existing <stem>.<ext> file satisfies the call without network I/O.
func WithInferredExtension() DownloadOption {
	return func(o *downloadOptions) {
		o.inferExt = true
	}
}

// DownloadFile streams rawURL to disk. With an empty destPath the name comes from
// Content-Disposition, the URL path, or a fresh unique name, under the downloads dir.
// An existing destination is returned as-is unless overwrite is set.
func (c *Client) DownloadFile(ctx context.Context, rawURL, destPath string, overwrite bool, opts ...DownloadOption) cache.DownloadResult {
	if rawURL == "" {
		return cache.Failed(ErrEmptyURL.Error())
	}
	if c.closed.Load() {
		return cache.Failed(ErrClientClosed.Error())
	}

	var o downloadOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.inferExt = o.inferExt && destPath != "" && filepath.Ext(destPath) == ""

	if destPath != "" && !overwrite {
		existing := destPath
		if o.inferExt {
			existing = findByStem(destPath)
		}
		if existing != "" && fileExists(existing) {
			gologging.DebugF("The file already exists: %s", existing)
			return cache.Delivered(existing)
		}
	}

	path, err := c.download(ctx, rawURL, destPath, overwrite, o)
	if err != nil {
		msg := fmt.Sprintf("download failed for %s: %v", rawURL, err)
		gologging.ErrorF("%s", msg)
		return cache.Failed(msg)
	}
	return cache.Delivered(path)
}

func (c *Client) download(ctx context.Context, rawURL, destPath string, overwrite bool, o downloadOptions) (path string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	start := time.Now()
	status := 0
	defer func() {
		c.record(cache.AttemptDownload, rawURL, 0, status, start, err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create the request: %w", err)
	}
	req.Header = c.headersFor(rawURL, nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	path = destPath
	switch {
	case path == "":
		path = determineFilename(c.opts.DownloadsDir, rawURL, resp.Header.Get("Content-Disposition"))
	case o.inferExt:
		path += responseExtension(resp.Header)
	}

	if !overwrite && fileExists(path) {
		gologging.DebugF("The file already exists: %s", path)
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), defaultDownloadDirPerm); err != nil {
		return "", fmt.Errorf("failed to create the directory: %w", err)
	}

	if err := writeToFile(ctx, path, resp.Body, c.opts.ChunkSize); err != nil {
		return "", err
	}

	gologging.DebugF("Downloaded file to %s in %s", path, time.Since(start))
	return path, nil
}

// writeToFile copies data into a unique temp file next to filename in fixed-size
// chunks and renames it into place once the body is fully read.
func writeToFile(ctx context.Context, filename string, data io.Reader, chunkSize int) error {
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create the file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			_ = tmp.Close()
			return err
		}
		n, readErr := data.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				_ = tmp.Close()
				return fmt.Errorf("failed to write to the file: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = tmp.Close()
			return fmt.Errorf("failed to read the response body: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close the file: %w", err)
	}
	if err := os.Rename(tmpPath, filename); err != nil {
		return fmt.Errorf("failed to rename the temporary file: %w", err)
	}
	return nil
}

func (c *Client) record(kind, rawURL string, n, status int, start time.Time, err error) {
	a := cache.Attempt{
		URL:       rawURL,
		Kind:      kind,
		Number:    n + 1,
		Status:    status,
		Latency:   time.Since(start),
		StartedAt: start,
	}
	if err != nil {
		a.Err = err.Error()
	}
	c.recorder.Record(a)
}

// backoff returns factor * 2^attempt seconds.
func backoff(factor float64, attempt int) time.Duration {
	return time.Duration(factor * math.Pow(2, float64(attempt)) * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// origin normalises a URL to scheme://host for comparison. It returns "" when rawURL
// has no scheme or host.
func origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

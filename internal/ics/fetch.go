package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appLog "github.com/martinaparikova/calendar-asistant/internal/log"
	"github.com/martinaparikova/calendar-asistant/internal/metrics"
	"github.com/martinaparikova/calendar-asistant/internal/model"
)

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultMaxConcurrency = 4
	userAgent             = "calsummary/1.0 (+ics aggregation)"
	// defaultMaxBodyBytes bounds a single feed; big shared calendars stay
	// well below.
	defaultMaxBodyBytes = 32 << 20
)

// FetchResult contains the outcome of fetching a single ICS source. Exactly
// one of Body and Err is set.
type FetchResult struct {
	Source    model.CalendarSource
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if we reused cached body due to 304
	Err       error  // *FetchError
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FetcherOptions configures a Fetcher. Zero values mean defaults.
type FetcherOptions struct {
	// Timeout bounds one attempt for one source.
	Timeout time.Duration
	// Retries is the number of immediate re-attempts after a failure.
	Retries int
	// MaxConcurrency caps the worker pool.
	MaxConcurrency int
	// CacheDir enables ETag / Last-Modified revalidation. Empty disables.
	CacheDir string
	// MaxBodyBytes rejects larger feeds instead of parsing a cut-off body.
	MaxBodyBytes int64
	// Client overrides the HTTP client (tests).
	Client *http.Client
}

// Fetcher is responsible for fetching ICS feeds, optionally revalidating
// against a disk-backed cache.
type Fetcher struct {
	client     *http.Client
	timeout    time.Duration
	retries    int
	maxWorkers int
	cacheDir   string
	maxBody    int64
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		client:     opts.Client,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		maxWorkers: opts.MaxConcurrency,
		cacheDir:   opts.CacheDir,
		maxBody:    opts.MaxBodyBytes,
	}
	if f.client == nil {
		// Per-attempt deadlines come from the context, not the client.
		f.client = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	if f.retries < 0 {
		f.retries = 0
	}
	if f.maxWorkers <= 0 {
		f.maxWorkers = defaultMaxConcurrency
	}
	if f.maxBody <= 0 {
		f.maxBody = defaultMaxBodyBytes
	}
	return f
}

// FetchAll fetches all given sources with a bounded worker pool and returns
// one result per source, at the same index. A failing source never stops the
// others. When ctx is cancelled (run-level timeout) pending fetches are
// aborted and reported as failed.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.CalendarSource) []FetchResult {
	results := make([]FetchResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	workers := min(len(sources), f.maxWorkers)
	jobs := make(chan int, len(sources))
	for i := range sources {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Each slot is written by exactly one worker.
				results[i] = f.FetchOne(ctx, sources[i])
			}
		}()
	}
	wg.Wait()

	return results
}

// FetchOne fetches a single ICS source, retrying immediately up to the
// configured count.
func (f *Fetcher) FetchOne(ctx context.Context, src model.CalendarSource) FetchResult {
	res := FetchResult{Source: src}

	if src.URL == "" {
		res.Err = &FetchError{Source: src.Name, Reason: ReasonInvalid, Err: errors.New("source URL is empty")}
		return res
	}

	var lastErr *FetchError
	attempts := 0
	for attempts <= f.retries {
		if ctx.Err() != nil {
			break
		}
		attempts++

		start := time.Now()
		body, fromCache, err := f.attempt(ctx, src)
		metrics.FetchDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.FetchTotal.WithLabelValues(src.Name, "ok").Inc()
			res.Body = body
			res.FromCache = fromCache
			return res
		}

		lastErr = err
		lastErr.Attempts = attempts
		metrics.FetchTotal.WithLabelValues(src.Name, string(err.Reason)).Inc()
		appLog.Warn("ics fetch attempt failed", "source", src.Name, "url", redactURL(src.URL), "attempt", attempts, "reason", err.Reason)

		if !retryable(err) {
			break
		}
	}

	if lastErr == nil {
		// Run context already done before the first attempt.
		lastErr = &FetchError{Source: src.Name, Reason: ReasonAborted, Attempts: attempts, Err: ctx.Err()}
	}
	appLog.Error("ics fetch failed", lastErr, "source", src.Name, "url", redactURL(src.URL))
	res.Err = lastErr
	return res
}

func retryable(err *FetchError) bool {
	switch err.Reason {
	case ReasonAborted, ReasonInvalid, ReasonTooLarge:
		return false
	case ReasonStatus:
		return err.StatusCode >= 500 || err.StatusCode == http.StatusRequestTimeout || err.StatusCode == http.StatusTooManyRequests
	default:
		return true
	}
}

// attempt performs one HTTP request, honoring ETag and Last-Modified when a
// cache directory is configured.
func (f *Fetcher) attempt(runCtx context.Context, src model.CalendarSource) ([]byte, bool, *FetchError) {
	ctx, cancel := context.WithTimeout(runCtx, f.timeout)
	defer cancel()

	fail := func(reason FetchReason, status int, err error) ([]byte, bool, *FetchError) {
		return nil, false, &FetchError{Source: src.Name, Reason: reason, StatusCode: status, Err: err}
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(src.URL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			appLog.Error("ics cache dir unavailable", err, "source", src.Name)
			cachePath = ""
		} else {
			meta, _ = f.loadCacheMeta(cachePath)
			cachedBody, _ = f.loadCacheBody(cachePath)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fail(ReasonInvalid, 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	// Conditional headers only make sense when we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "source", src.Name, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// *url.Error repeats the secret URL; keep only the cause.
		var ue *url.Error
		if errors.As(err, &ue) {
			return fail(classify(runCtx, err), 0, ue.Err)
		}
		return fail(classify(runCtx, err), 0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
		if readErr != nil {
			return fail(classify(runCtx, readErr), 0, readErr)
		}
		if int64(len(body)) > f.maxBody {
			return fail(ReasonTooLarge, 0, fmt.Errorf("body exceeds %d bytes", f.maxBody))
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			return fail(ReasonEmpty, 0, nil)
		}

		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("ics cache save failed", err, "source", src.Name)
			}
		}

		appLog.Info("ics fetch success", "source", src.Name, "url", redactURL(src.URL), "bytes", len(body), "from_cache", false)
		return body, false, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return fail(ReasonStatus, resp.StatusCode, errors.New("received 304 Not Modified but no cached body available"))
		}
		appLog.Info("ics fetch not modified; using cache", "source", src.Name, "url", redactURL(src.URL))
		return cachedBody, true, nil

	default:
		return fail(ReasonStatus, resp.StatusCode, errors.New(resp.Status))
	}
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	metaFile := filepath.Join(cachePath, "meta.json")
	bodyFile := filepath.Join(cachePath, "body.ics")

	// Write body first so meta never points at missing body.
	if err := os.WriteFile(bodyFile, body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaFile, data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://calendar.google.com/calendar/ical/x/private-abcd/basic.ics
//	-> https://calendar.google.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	// Drop userinfo, it may carry credentials.
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return u[:i+3] + rest + redactedSuffix
}

package dispatch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"isazap/internal/domain"
)

// MediaFilename is the filename attached to media fetched from a URL.
const MediaFilename = "Media"

const maxMediaBytes = 64 << 20

// FetchError reports a failure to download remote media. No send is
// attempted after a FetchError.
type FetchError struct {
	URL        string
	StatusCode int // zero when the request itself failed
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads media over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher returns a fetcher with a pooled transport and the given overall timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Fetcher{client: &http.Client{Timeout: timeout, Transport: transport}}
}

// Fetch downloads url and wraps the body as media, keeping the server's
// Content-Type. Non-2xx responses are fetch failures.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %s", resp.Status)}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(raw) > maxMediaBytes {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("media larger than %d bytes", maxMediaBytes)}
	}

	return domain.NewMedia(resp.Header.Get("Content-Type"), raw, MediaFilename), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"videoswap/internal/infra"
)

// MaxInputBytes is the soft upload limit for a job input resource.
const MaxInputBytes int64 = 30 << 20

// ErrTooLarge is returned when an input exceeds the configured limit.
var ErrTooLarge = errors.New("storage: input exceeds size limit")

// Fetcher loads job inputs from http(s) URLs or from the local FileStore.
type Fetcher struct {
	store    *FileStore
	client   *http.Client
	logger   *infra.Logger
	maxBytes int64
}

// NewFetcher builds a Fetcher. store may be nil when only remote URLs are used.
func NewFetcher(store *FileStore, client *http.Client, logger *infra.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{
		store:    store,
		client:   client,
		logger:   infra.LoggerOrDiscard(logger),
		maxBytes: MaxInputBytes,
	}
}

// Fetch returns the bytes and file name of location.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, "", errors.New("storage: input location is required")
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, "", fmt.Errorf("storage: parse input location: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		data, err := f.fetchHTTP(ctx, u.String())
		return data, path.Base(u.Path), err
	case "file":
		data, err := f.store.Read(ctx, u.Path, f.maxBytes)
		return data, path.Base(u.Path), err
	case "":
		data, err := f.store.Read(ctx, location, f.maxBytes)
		return data, path.Base(location), err
	default:
		return nil, "", fmt.Errorf("storage: unsupported input scheme %q", u.Scheme)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download input: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download input: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read input: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	f.logger.Debug().Str("url", target).Int("bytes", len(data)).Msg("storage: input downloaded")
	return data, nil
}

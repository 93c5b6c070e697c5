package query

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedURL is returned for image URLs with an unknown scheme.
var ErrUnsupportedURL = errors.New("unsupported image url")

// maxImageBytes caps a single downloaded page image.
const maxImageBytes = 32 << 20

// ImageFetcher loads the bytes behind a page image URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ObjectGetter reads one object from a bucket.
type ObjectGetter interface {
	GetObject(ctx context.Context, bucket string, key string) ([]byte, error)
}

// URLFetcher resolves s3://bucket/key through Objects, http(s) URLs
// through HTTP and data: URIs inline.
type URLFetcher struct {
	Objects ObjectGetter
	HTTP    *http.Client
}

func NewURLFetcher(objects ObjectGetter) *URLFetcher {
	return &URLFetcher{
		Objects: objects,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "data:"):
		return decodeDataURI(rawURL)
	case strings.HasPrefix(rawURL, "s3://"):
		return f.fetchObject(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return f.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
}

func (f *URLFetcher) fetchObject(ctx context.Context, rawURL string) ([]byte, error) {
	if f.Objects == nil {
		return nil, fmt.Errorf("%w: no object storage configured for %q", ErrUnsupportedURL, rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid object url %q: %w", rawURL, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, fmt.Errorf("invalid object url %q: need s3://bucket/key", rawURL)
	}
	return f.Objects.GetObject(ctx, u.Host, key)
}

func (f *URLFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %q: %w", rawURL, err)
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %q: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("failed to download %q: status %d", rawURL, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", rawURL, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image %q exceeds %d bytes", rawURL, maxImageBytes)
	}
	return data, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data uri", ErrUnsupportedURL)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data uri: %w", err)
		}
		return data, nil
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data uri: %w", err)
	}
	return []byte(decoded), nil
}

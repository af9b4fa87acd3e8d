// Package artifact fetches the module and snapshot blobs a replica starts from. A fetch
// begins as soon as it is requested and the result is consumed later through
// snapshot.Source.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/snapshot"
)

// DefaultMaxBytes caps the size of a fetched artifact
const DefaultMaxBytes = 512 << 20

var (
	ErrUnsupportedScheme = errors.New("unsupported artifact scheme")
	ErrTooLarge          = errors.New("artifact exceeds size limit")
)

// Options configures fetching
type Options struct {
	HTTPClient *http.Client // http.DefaultClient when nil
	S3         S3Options
	MaxBytes   int64 // DefaultMaxBytes when 0
	Logger     logging.Logger
}

// InFlight is a fetch that has started. It satisfies snapshot.Source.
type InFlight struct {
	url  string
	done chan struct{}
	data []byte
	err  error
}

var _ snapshot.Source = (*InFlight)(nil)

// Fetch starts fetching rawURL in the background. Supported forms are file:// URLs or bare
// paths, http(s):// URLs and s3://bucket/key.
func Fetch(ctx context.Context, rawURL string, opts Options) *InFlight {
	f := &InFlight{url: rawURL, done: make(chan struct{})}
	logger := logging.OrDefault(opts.Logger).With(logging.Component("artifact"))
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	go func() {
		defer close(f.done)
		timer := logging.StartTimer(logger, "fetch", logging.String("url", rawURL))
		f.data, f.err = fetch(ctx, rawURL, opts)
		if f.err != nil {
			timer.EndError(f.err)
			return
		}
		timer.End()
	}()
	return f
}

// URL returns the fetched location
func (f *InFlight) URL() string {
	return f.url
}

// Done is closed when the fetch has finished
func (f *InFlight) Done() <-chan struct{} {
	return f.done
}

// Bytes waits for the fetch and returns its result
func (f *InFlight) Bytes(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fetch(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("empty artifact url")
	}
	if !strings.Contains(rawURL, "://") {
		return readFile(rawURL, opts.MaxBytes)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse artifact url: %w", err)
	}

	switch u.Scheme {
	case "file":
		return readFile(u.Path, opts.MaxBytes)
	case "http", "https":
		return fetchHTTP(ctx, opts.HTTPClient, rawURL, opts.MaxBytes)
	case "s3":
		return fetchS3(ctx, opts.S3, u.Host, strings.TrimPrefix(u.Path, "/"), opts.MaxBytes)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

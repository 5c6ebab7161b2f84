// Package source opens CAR streams from local files, stdin, HTTP URLs and
// OCI registries, transparently removing zstd, gzip or lz4 compression.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Stdin is the location that reads from standard input.
const Stdin = "-"

// OCIScheme prefixes registry references, as in oci://ghcr.io/org/repo:tag.
const OCIScheme = "oci://"

// Errors returned by Open.
var (
	// ErrUnexpectedStatus is returned when an HTTP source does not answer 200.
	ErrUnexpectedStatus = errors.New("source: unexpected HTTP status")

	// ErrNoArchiveLayer is returned when an OCI manifest holds no CAR layer.
	ErrNoArchiveLayer = errors.New("source: manifest has no CAR layer")

	// ErrDigestMismatch is returned when registry content does not match
	// its descriptor.
	ErrDigestMismatch = errors.New("source: digest mismatch")
)

// Option configures Open.
type Option func(*opener)

type opener struct {
	stdin      io.Reader
	httpClient *http.Client
	plainHTTP  bool
	credStore  credentials.Store
	static     *auth.Credential
	logger     *slog.Logger
}

// WithStdin sets the reader used for the "-" location (default os.Stdin).
func WithStdin(r io.Reader) Option {
	return func(o *opener) {
		o.stdin = r
	}
}

// WithHTTPClient sets the client for http(s) locations
// (default: the oras retrying client).
func WithHTTPClient(c *http.Client) Option {
	return func(o *opener) {
		o.httpClient = c
	}
}

// WithPlainHTTP talks to OCI registries without TLS.
func WithPlainHTTP(enabled bool) Option {
	return func(o *opener) {
		o.plainHTTP = enabled
	}
}

// WithCredentialStore sets the registry credential store.
// By default credentials are read from the Docker config, if any.
func WithCredentialStore(store credentials.Store) Option {
	return func(o *opener) {
		o.credStore = store
	}
}

// WithStaticCredentials authenticates to the registry of each oci://
// reference with username and secret. An empty username sends secret as a
// bearer token. It takes precedence over WithCredentialStore.
func WithStaticCredentials(username, secret string) Option {
	return func(o *opener) {
		o.static = &auth.Credential{Username: username, Password: secret}
	}
}

// WithLogger sets the logger for source diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *opener) {
		o.logger = logger
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (o *opener) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// Open returns the decompressed archive stream at location.
//
// location is a local path, "-" for stdin, an http:// or https:// URL, or
// an oci:// registry reference. The caller must close the result.
func Open(ctx context.Context, location string, opts ...Option) (io.ReadCloser, error) {
	o := &opener{
		stdin:      os.Stdin,
		httpClient: retry.DefaultClient,
	}
	for _, opt := range opts {
		opt(o)
	}

	raw, err := o.open(ctx, location)
	if err != nil {
		return nil, err
	}
	rc, format, err := Decompress(raw)
	if err != nil {
		_ = raw.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("source %s: %w", location, err)
	}
	o.log().Debug("opened source", "location", location, "compression", format)
	return rc, nil
}

func (o *opener) open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch {
	case location == Stdin:
		return io.NopCloser(o.stdin), nil
	case strings.HasPrefix(location, OCIScheme):
		return o.openOCI(ctx, strings.TrimPrefix(location, OCIScheme))
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return o.openHTTP(ctx, location)
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		return f, nil
	}
}

func (o *opener) openHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close() //nolint:errcheck // status error takes precedence
		return nil, fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, url, resp.Status)
	}
	o.log().Debug("streaming http source", "url", url, "content_length", resp.ContentLength)
	return resp.Body, nil
}

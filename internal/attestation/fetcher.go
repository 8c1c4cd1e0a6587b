package attestation

import (
	"context"
	"fmt"
	"net/url"

	"github.com/BurntSushi/toml"

	"github.com/postfiatorg/validator-history-service/internal/fetch"
	"github.com/postfiatorg/validator-history-service/internal/model"
)

// DefaultTrustFilePath is the well-known location of the trust file.
const DefaultTrustFilePath = "/.well-known/pft-ledger.toml"

// HTTPFetcher reads trust files over HTTPS. Fetches are never retried
// within a pass.
type HTTPFetcher struct {
	client *fetch.Client
	path   string
	scheme string
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithPath overrides DefaultTrustFilePath.
func WithPath(path string) FetcherOption {
	return func(f *HTTPFetcher) { f.path = path }
}

// WithScheme overrides the https scheme, for local test servers.
func WithScheme(scheme string) FetcherOption {
	return func(f *HTTPFetcher) { f.scheme = scheme }
}

// NewHTTPFetcher returns a fetcher using client for transport. client
// should be configured without retries.
func NewHTTPFetcher(client *fetch.Client, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{client: client, path: DefaultTrustFilePath, scheme: "https"}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the trust file location for domain.
func (f *HTTPFetcher) URL(domain string) string {
	u := url.URL{Scheme: f.scheme, Host: domain, Path: f.path}
	return u.String()
}

// Fetch implements TrustFileFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, domain string) (*TrustFile, error) {
	body, err := f.client.Get(ctx, f.URL(domain))
	if err != nil {
		return nil, err
	}
	return ParseTrustFile(body)
}

// ParseTrustFile decodes a TOML trust file. Parse failures wrap
// model.ErrDecode.
func ParseTrustFile(data []byte) (*TrustFile, error) {
	var file TrustFile
	md, err := toml.Decode(string(data), &file)
	if err != nil {
		return nil, fmt.Errorf("%w: trust file: %v", model.ErrDecode, err)
	}
	file.HasValidators = md.IsDefined("VALIDATORS")
	return &file, nil
}

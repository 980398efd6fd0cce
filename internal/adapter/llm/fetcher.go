package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
	"pixelchat/internal/security"
)

var _ domain.ImageFetcher = (*Fetcher)(nil)

// Fetcher materializes image locators: remote http(s) URLs, inline data
// URLs and blob store locators.
type Fetcher struct {
	client     *http.Client
	blobs      domain.BlobStore
	publicOnly bool
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithPublicOnly refuses downloads from loopback, link-local and private
// addresses. Proxies are bypassed so the guard sees the real peer.
func WithPublicOnly() FetcherOption {
	return func(f *Fetcher) { f.publicOnly = true }
}

// NewFetcher creates a Fetcher. blobs may be nil when no blob store is wired.
func NewFetcher(cfg config.ProviderConfig, blobs domain.BlobStore, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{client: NewHTTPClient(cfg), blobs: blobs}
	for _, opt := range opts {
		opt(f)
	}
	if f.publicOnly {
		tr := f.client.Transport.(*http.Transport)
		connTimeout := cfg.ConnTimeout
		if connTimeout <= 0 {
			connTimeout = defaultConnTimeout
		}
		tr.Proxy = nil
		tr.DialContext = security.GuardDialer(&net.Dialer{Timeout: connTimeout, KeepAlive: 30 * time.Second}, nil)
	}
	return f
}

// Fetch implements domain.ImageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (*domain.ImageFile, error) {
	switch {
	case domain.IsBlobLocator(locator):
		if f.blobs == nil {
			return nil, domain.ErrBlobNotFound
		}
		return f.blobs.Get(ctx, locator)
	case strings.HasPrefix(locator, "data:"):
		return decodeDataURL(locator)
	case strings.HasPrefix(locator, "https://"), strings.HasPrefix(locator, "http://"):
		return f.download(ctx, locator)
	default:
		return nil, fmt.Errorf("fetch image: unsupported locator %q", truncate(locator, 64))
	}
}

func (f *Fetcher) download(ctx context.Context, locator string) (*domain.ImageFile, error) {
	if f.publicOnly {
		if err := security.CheckLocatorURL(locator); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, domain.MaxImageFileSize+1))
	if err != nil {
		return nil, transportError(fmt.Errorf("read image: %w", err))
	}
	if int64(len(data)) > domain.MaxImageFileSize {
		return nil, domain.NewDomainError("Fetch", domain.ErrFileTooLarge, locator)
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}

	return &domain.ImageFile{
		Name:        nameFromURL(locator),
		ContentType: ct,
		Size:        int64(len(data)),
		Data:        data,
		Locator:     locator,
	}, nil
}

// decodeDataURL parses "data:<type>;base64,<payload>".
func decodeDataURL(locator string) (*domain.ImageFile, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(locator, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("fetch image: malformed data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("fetch image: decode data url: %w", err)
	}
	ct := strings.TrimSuffix(meta, ";base64")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &domain.ImageFile{
		Name:        "generated" + extensionFor(ct),
		ContentType: ct,
		Size:        int64(len(data)),
		Data:        data,
		Locator:     locator,
	}, nil
}

func nameFromURL(locator string) string {
	u, err := url.Parse(locator)
	if err != nil {
		return "image"
	}
	if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
		return base
	}
	return "image"
}

func extensionFor(ct string) string {
	switch ct {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}

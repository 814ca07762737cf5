// Package pdf fetches open-access paper PDFs and turns them into plain text
// split by section.
package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
)

var (
	// ErrNotPDF is returned when the response is neither typed nor shaped as a PDF.
	ErrNotPDF = errors.New("pdf: response is not a PDF")
	// ErrTooLarge is returned when the body exceeds the configured size limit.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrDownloadFailed wraps network failures and non-2xx responses.
	ErrDownloadFailed = errors.New("pdf: download failed")
	// ErrSSRF is returned when a URL or redirect points at a non-public address.
	ErrSSRF = errors.New("pdf: request to private network denied")
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxSize   = 20 * 1024 * 1024
	defaultUserAgent = "Mozilla/5.0 (compatible; paper-search-service/1.0)"
	maxRedirects     = 10
)

var pdfMagic = []byte("%PDF-")

// DownloadResult is a downloaded PDF.
type DownloadResult struct {
	Content     []byte
	ContentHash string // hex SHA-256 of Content
	SizeBytes   int64
	ContentType string
}

// Config holds downloader settings. Zero values take defaults.
type Config struct {
	Timeout   time.Duration
	MaxSize   int64
	UserAgent string
	// AllowPrivateNetworks skips the private-address checks. Tests only.
	AllowPrivateNetworks bool
}

// Downloader fetches PDFs over HTTP(S), refusing private-network targets.
type Downloader struct {
	client               *http.Client
	maxSize              int64
	userAgent            string
	allowPrivateNetworks bool
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultMaxSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	d := &Downloader{
		maxSize:              cfg.MaxSize,
		userAgent:            cfg.UserAgent,
		allowPrivateNetworks: cfg.AllowPrivateNetworks,
	}
	d.client = &http.Client{
		Timeout: cfg.Timeout,
		// Open redirects must not land on internal addresses either.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("%w: stopped after %d redirects", ErrDownloadFailed, maxRedirects)
			}
			return d.checkTarget(req.URL)
		},
	}
	return d
}

// Download fetches rawURL and returns its body. The response must be typed
// application/pdf, or be an untyped/octet-stream body that starts with the
// PDF header. A 429 from the host yields a *domain.RateLimitError and a 5xx
// wraps domain.ErrServiceUnavailable; other failures wrap ErrDownloadFailed,
// ErrNotPDF, ErrTooLarge or ErrSSRF.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrDownloadFailed, rawURL)
	}
	if err := d.checkTarget(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewRateLimitError(u.Hostname(), retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode >= 500:
		return nil, domain.NewExternalAPIError(u.Hostname(), resp.StatusCode, "PDF host unavailable", domain.ErrServiceUnavailable)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	kind := classifyContentType(contentType)
	if kind == contentOther {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeded %d bytes", ErrTooLarge, d.maxSize)
	}
	if kind == contentSniff && !bytes.HasPrefix(content, pdfMagic) {
		return nil, fmt.Errorf("%w: Content-Type is %q and body has no PDF header", ErrNotPDF, contentType)
	}

	sum := sha256.Sum256(content)
	return &DownloadResult{
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(content)),
		ContentType: contentType,
	}, nil
}

// retryAfter parses a Retry-After value in seconds or HTTP-date form.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

type contentKind int

const (
	contentPDF contentKind = iota
	contentSniff
	contentOther
)

func classifyContentType(header string) contentKind {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(header))
	}
	switch mediaType {
	case "application/pdf", "application/x-pdf":
		return contentPDF
	case "", "application/octet-stream", "binary/octet-stream", "application/download":
		return contentSniff
	default:
		return contentOther
	}
}

// checkTarget rejects non-HTTP schemes and hosts that resolve to loopback,
// private, link-local or unspecified addresses.
func (d *Downloader) checkTarget(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrSSRF, u.Scheme)
	}
	if d.allowPrivateNetworks {
		return nil
	}

	host := u.Hostname()
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrDownloadFailed, host, err)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isNonPublic(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRF, host, a)
		}
	}
	return nil
}

func isNonPublic(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsUnspecified()
}

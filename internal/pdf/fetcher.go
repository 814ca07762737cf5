package pdf

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher downloads a PDF and extracts its text.
type Fetcher struct {
	downloader *Downloader
	extractor  *Extractor
	logger     zerolog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(downloader *Downloader, extractor *Extractor, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		downloader: downloader,
		extractor:  extractor,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "pdf_fetcher").Logger()
	return f
}

// FetchText downloads url and returns its extracted text.
func (f *Fetcher) FetchText(ctx context.Context, url string) (string, error) {
	start := time.Now()

	doc, err := f.downloader.Download(ctx, url)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("pdf download failed")
		return "", err
	}

	text, err := f.extractor.Extract(doc.Content)
	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("url", url).
			Str("content_hash", doc.ContentHash).
			Msg("pdf text extraction failed")
		return "", err
	}

	f.logger.Debug().
		Str("url", url).
		Int64("size_bytes", doc.SizeBytes).
		Int("text_runes", len([]rune(text))).
		Dur("duration", time.Since(start)).
		Msg("pdf text fetched")
	return text, nil
}

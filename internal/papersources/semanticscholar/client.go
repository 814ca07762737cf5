package semanticscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultRateLimit is the default rate limit in requests per second.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the per-call timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResults is the default maximum number of results per request.
	DefaultMaxResults = 100

	// DefaultMaxAttempts bounds both the 429 retries of search and the
	// retries of FetchPaper.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the base backoff delay.
	DefaultRetryDelay = time.Second

	apiKeyHeader = "x-api-key"

	paperFields = "paperId,externalIds,title,abstract,year,venue,journal,authors,citationCount,isOpenAccess,openAccessPdf,publicationTypes"

	sourceName = "Semantic Scholar"
)

// Config contains configuration options for the Semantic Scholar client.
type Config struct {
	// BaseURL is the base URL for the API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key for authenticated requests.
	APIKey string

	// Timeout is the per-call timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults caps the number of results requested per search.
	MaxResults int

	// MaxAttempts bounds retries. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay is the base backoff delay. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// Client implements papersources.PaperSource for Semantic Scholar. It also
// serves single-paper lookups for the paper-detail flow and warms the
// paper-metadata cache with every record it returns.
type Client struct {
	httpClient *papersources.HTTPClient
	config     Config
	cache      cache.Cache
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithCache sets the paper-metadata cache used for warming and read-through.
func WithCache(c cache.Cache) Option {
	return func(cl *Client) {
		cl.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(cl *Client) {
		cl.metrics = m
	}
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// NewClient creates a new Semantic Scholar client with the given configuration.
// If httpClient is nil, a new one will be created with the configuration settings.
func NewClient(cfg Config, httpClient *papersources.HTTPClient, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultBurstSize
	}
	if cfg.MaxResults == 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	if httpClient == nil {
		httpClient = papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:      cfg.Timeout,
			RateLimit:    cfg.RateLimit,
			BurstSize:    cfg.BurstSize,
			MaxAttempts:  cfg.MaxAttempts,
			RetryDelay:   cfg.RetryDelay,
			APIKey:       cfg.APIKey,
			APIKeyHeader: apiKeyHeader,
		})
	}

	c := &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("source", string(domain.SourceTypeSemanticScholar)).Logger()
	return c
}

// Search queries Semantic Scholar for papers matching the given parameters.
// A non-2xx response or transport failure is logged and yields an empty
// result; only cancellation of ctx is returned as an error.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	start := time.Now()
	logger := c.logger.With().Str("query", params.Query).Logger()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	c.recordRequest("search", start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var rlErr *domain.RateLimitError
		if errors.As(err, &rlErr) {
			c.recordStatusFailure("search", http.StatusTooManyRequests)
			logger.Warn().Err(err).Dur("retry_after", rlErr.RetryAfter).Msg("semantic scholar search rate limited")
			return c.emptyResult(start), nil
		}
		c.recordFailure("search", "transport")
		logger.Warn().Err(err).Msg("semantic scholar search failed")
		return c.emptyResult(start), nil
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		c.recordStatusFailure("search", resp.StatusCode)
		logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("semantic scholar search returned error status")
		return c.emptyResult(start), nil
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		c.recordFailure("search", "decode")
		logger.Warn().Err(err).Msg("decoding semantic scholar search response")
		return c.emptyResult(start), nil
	}

	papers := make([]*domain.Paper, 0, len(searchResp.Data))
	for _, result := range searchResp.Data {
		if result.PaperID == "" {
			continue
		}
		papers = append(papers, convertToPaper(result))
	}

	c.warmCache(ctx, papers)

	if c.metrics != nil {
		c.metrics.RecordPapersDiscovered(string(domain.SourceTypeSemanticScholar), len(papers))
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   searchResp.Total,
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}, nil
}

// FetchPaper returns a single paper by Semantic Scholar ID, "doi:<doi>" or
// "pmid:<n>", reading through the paper-metadata cache.
//
// It returns (nil, nil) when the paper definitively does not exist (404) and
// when every attempt failed; callers treat nil as "detail unavailable". 429
// and 5xx responses are retried with linear backoff. The only error returned
// is cancellation of ctx.
func (c *Client) FetchPaper(ctx context.Context, id string) (*domain.Paper, error) {
	logger := c.logger.With().Str("paper_id", id).Logger()

	if c.cache != nil {
		var cached domain.Paper
		if err := cache.GetJSON(ctx, c.cache, cache.PaperKey(id), &cached); err == nil {
			c.recordCache(true)
			return &cached, nil
		}
		c.recordCache(false)
	}

	paperURL := fmt.Sprintf("%s/paper/%s?fields=%s", c.config.BaseURL, paperPath(id), paperFields)

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, c.config.RetryDelay*time.Duration(attempt-1)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, paperURL, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		start := time.Now()
		resp, err := c.httpClient.DoOnce(req)
		c.recordRequest("paper", start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.recordFailure("paper", "transport")
			logger.Warn().Err(err).Int("attempt", attempt).Msg("semantic scholar paper fetch failed")
			continue
		}

		paper, retry := c.readPaperResponse(resp, logger, attempt)
		if paper != nil {
			c.warmCache(ctx, []*domain.Paper{paper})
			if c.cache != nil && id != paper.ID {
				_ = cache.SetJSON(context.WithoutCancel(ctx), c.cache, cache.PaperKey(id), paper, cache.PaperTTL)
			}
			return paper, nil
		}
		if !retry {
			return nil, nil
		}
	}

	logger.Warn().Int("attempts", c.config.MaxAttempts).Msg("semantic scholar paper fetch exhausted retries")
	return nil, nil
}

// readPaperResponse consumes resp. It returns the decoded paper on success,
// or whether the failure is worth another attempt.
func (c *Client) readPaperResponse(resp *http.Response, logger zerolog.Logger, attempt int) (*domain.Paper, bool) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		c.recordStatusFailure("paper", resp.StatusCode)
		logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("semantic scholar paper fetch will retry")
		return nil, true
	}

	if err := c.handleErrorResponse(resp); err != nil {
		c.recordStatusFailure("paper", resp.StatusCode)
		logger.Warn().Err(err).Msg("semantic scholar paper fetch returned error status")
		return nil, false
	}

	var result PaperResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&result); err != nil || result.PaperID == "" {
		c.recordFailure("paper", "decode")
		logger.Warn().Err(err).Msg("decoding semantic scholar paper response")
		return nil, false
	}
	return convertToPaper(result), false
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeSemanticScholar
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is currently enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// warmCache stores each paper under its own ID and under its DOI and PMID
// alternates, so later detail requests for any of them skip the API.
func (c *Client) warmCache(ctx context.Context, papers []*domain.Paper) {
	if c.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, p := range papers {
		keys := []string{p.ID}
		if p.HasDOI() {
			keys = append(keys, "doi:"+domain.NormalizeDOI(p.DOI))
		}
		if p.PMID != "" {
			keys = append(keys, "pmid:"+p.PMID)
		}
		for _, k := range keys {
			if err := cache.SetJSON(ctx, c.cache, cache.PaperKey(k), p, cache.PaperTTL); err != nil {
				c.logger.Debug().Err(err).Str("key", k).Msg("warming paper cache failed")
			}
		}
	}
}

// buildSearchURL constructs the search API URL with query parameters.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	searchURL := baseURL.JoinPath("paper", "search")

	q := searchURL.Query()
	q.Set("query", params.Query)
	q.Set("fields", paperFields)

	limit := params.MaxResults
	if limit <= 0 || limit > c.config.MaxResults {
		limit = c.config.MaxResults
	}
	q.Set("limit", strconv.Itoa(limit))

	if yr := yearRange(params.YearFrom, params.YearTo); yr != "" {
		q.Set("year", yr)
	}

	searchURL.RawQuery = q.Encode()
	return searchURL.String(), nil
}

// yearRange formats year bounds the way the API expects: "2019-2024",
// "2019-" or "-2024".
func yearRange(from, to *int) string {
	switch {
	case from != nil && to != nil:
		return fmt.Sprintf("%d-%d", *from, *to)
	case from != nil:
		return fmt.Sprintf("%d-", *from)
	case to != nil:
		return fmt.Sprintf("-%d", *to)
	default:
		return ""
	}
}

// handleErrorResponse checks for API errors and returns appropriate error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read the error body (limit to 1MB to prevent resource exhaustion)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, "failed to read error response", err)
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		message := errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if message == "" {
			message = string(body)
		}
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, message, nil)
	}

	return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
}

func (c *Client) emptyResult(start time.Time) *papersources.SearchResult {
	return &papersources.SearchResult{
		Papers:         []*domain.Paper{},
		Source:         domain.SourceTypeSemanticScholar,
		SearchDuration: time.Since(start),
	}
}

func (c *Client) recordRequest(endpoint string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequest(string(domain.SourceTypeSemanticScholar), endpoint, time.Since(start).Seconds())
	}
}

func (c *Client) recordFailure(endpoint, errorType string) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequestFailed(string(domain.SourceTypeSemanticScholar), endpoint, errorType)
	}
}

func (c *Client) recordStatusFailure(endpoint string, status int) {
	if c.metrics == nil {
		return
	}
	if status == http.StatusTooManyRequests {
		c.metrics.RecordSourceRateLimited(string(domain.SourceTypeSemanticScholar))
	}
	c.metrics.RecordSourceRequestFailed(string(domain.SourceTypeSemanticScholar), endpoint, "http_"+strconv.Itoa(status))
}

func (c *Client) recordCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.RecordCacheHit("paper")
	} else {
		c.metrics.RecordCacheMiss("paper")
	}
}

// convertToPaper converts a single API paper result to a domain paper.
func convertToPaper(result PaperResult) *domain.Paper {
	paper := &domain.Paper{
		ID:               result.PaperID,
		Title:            strings.TrimSpace(result.Title),
		Year:             result.Year,
		Venue:            result.Venue,
		IsOpenAccess:     result.IsOpenAccess,
		Source:           domain.SourceTypeSemanticScholar,
		PublicationTypes: result.PublicationTypes,
	}

	if result.Abstract != nil {
		paper.Abstract = strings.TrimSpace(*result.Abstract)
	}
	if result.CitationCount != nil && *result.CitationCount > 0 {
		paper.CitationCount = *result.CitationCount
	}
	if result.Journal != nil {
		paper.Journal = result.Journal.Name
	}
	if paper.Journal == "" {
		paper.Journal = result.Venue
	}
	if result.OpenAccessPDF != nil && result.OpenAccessPDF.URL != "" {
		paper.PDFURL = result.OpenAccessPDF.URL
	}
	if result.ExternalIDs != nil {
		paper.DOI = result.ExternalIDs.DOI
		paper.PMID = result.ExternalIDs.PubMed
	}

	paper.Authors = make([]string, 0, len(result.Authors))
	for _, a := range result.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			paper.Authors = append(paper.Authors, name)
		}
	}

	return paper
}

// apiPaperID maps a pipeline paper ID to the API's identifier syntax.
func apiPaperID(id string) string {
	switch {
	case strings.HasPrefix(id, "pmid:"):
		return "PMID:" + strings.TrimPrefix(id, "pmid:")
	case strings.HasPrefix(id, "doi:"):
		return "DOI:" + strings.TrimPrefix(id, "doi:")
	default:
		return id
	}
}

// paperPath escapes an API paper identifier for the URL path. Slashes are
// kept, since the API expects DOIs in their raw form.
func paperPath(id string) string {
	segments := strings.Split(apiPaperID(id), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package pubmed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the per-call timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// DefaultMaxAttempts bounds retries of 429 responses.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the base backoff delay for 429 responses.
	DefaultRetryDelay = time.Second

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// earliestYear and latestYear fill the open end of a one-sided year
	// range; E-utilities ignores mindate without maxdate.
	earliestYear = 1800
	latestYear   = 3000

	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	APIKey string

	// Timeout is the per-call timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// With an API key, you can increase this to 10 req/sec.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the default maximum results per search.
	MaxResults int

	// MaxAttempts bounds 429 retries. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay is the base backoff delay. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}

// Client implements the papersources.PaperSource interface for PubMed.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Compile-time check that Client implements PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	httpCfg := papersources.HTTPClientConfig{
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		BurstSize:   cfg.BurstSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		Source:      string(domain.SourceTypePubMed),
	}

	return NewWithHTTPClient(cfg, papersources.NewHTTPClient(httpCfg), opts...)
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("source", string(domain.SourceTypePubMed)).Logger()
	return c
}

// Search queries PubMed for papers matching the given parameters.
// It performs a two-step search:
// 1. esearch.fcgi - retrieves PMIDs matching the query
// 2. efetch.fcgi - retrieves full article metadata for the PMIDs
//
// A failure in either step is logged and yields an empty result; only
// cancellation of ctx is returned as an error.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	startTime := time.Now()
	logger := c.logger.With().Str("query", params.Query).Logger()

	searchResult, err := c.esearch(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn().Err(err).Msg("pubmed esearch failed")
		return c.emptyResult(startTime, 0), nil
	}

	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 {
		logger.Debug().Strs("phrases", searchResult.ErrorList.PhraseNotFound).Msg("pubmed phrases not found")
	}

	if len(searchResult.IDList.IDs) == 0 {
		return c.emptyResult(startTime, searchResult.Count), nil
	}

	papers, err := c.efetch(ctx, searchResult.IDList.IDs, logger)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn().Err(err).Int("ids", len(searchResult.IDList.IDs)).Msg("pubmed efetch failed")
		return c.emptyResult(startTime, searchResult.Count), nil
	}

	if c.metrics != nil {
		c.metrics.RecordPapersDiscovered(string(domain.SourceTypePubMed), len(papers))
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   searchResult.Count,
		Source:         domain.SourceTypePubMed,
		SearchDuration: time.Since(startTime),
	}, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, params papersources.SearchParams) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmode", "xml")
	q.Set("sort", "relevance")

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	q.Set("retmax", strconv.Itoa(maxResults))

	if params.YearFrom != nil || params.YearTo != nil {
		from, to := earliestYear, latestYear
		if params.YearFrom != nil {
			from = *params.YearFrom
		}
		if params.YearTo != nil {
			to = *params.YearTo
		}
		q.Set("datetype", "pdat")
		q.Set("mindate", strconv.Itoa(from))
		q.Set("maxdate", strconv.Itoa(to))
	}

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "esearch", u.String())
	if err != nil {
		return nil, err
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		c.recordFailure("esearch", "decode")
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
}

// efetch retrieves article metadata for the given PMIDs. The batch is
// parsed record by record; records that fail to parse are logged and skipped.
func (c *Client) efetch(ctx context.Context, pmids []string, logger zerolog.Logger) ([]*domain.Paper, error) {
	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, "efetch", u.String())
	if err != nil {
		return nil, err
	}

	records := splitArticles(body)
	papers := make([]*domain.Paper, 0, len(records))
	for i, record := range records {
		article, err := decodeArticle(record)
		if err != nil {
			c.recordFailure("efetch", "malformed_record")
			logger.Warn().Err(err).Int("record", i).Msg("skipping malformed pubmed record")
			continue
		}
		papers = append(papers, articleToPaper(article))
	}

	return papers, nil
}

// get performs a rate-limited GET and returns the body of a 2xx response.
func (c *Client) get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordSourceRequest(string(domain.SourceTypePubMed), endpoint, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			if c.metrics != nil {
				c.metrics.RecordSourceRateLimited(string(domain.SourceTypePubMed))
			}
			c.recordFailure(endpoint, "http_429")
			return nil, err
		}
		c.recordFailure(endpoint, "transport")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Limit body to 10MB to prevent resource exhaustion.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if resp.StatusCode != http.StatusOK {
		if c.metrics != nil {
			if resp.StatusCode == http.StatusTooManyRequests {
				c.metrics.RecordSourceRateLimited(string(domain.SourceTypePubMed))
			}
			c.metrics.RecordSourceRequestFailed(string(domain.SourceTypePubMed), endpoint, "http_"+strconv.Itoa(resp.StatusCode))
		}
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, truncate(string(body), 200), nil)
	}
	if err != nil {
		c.recordFailure(endpoint, "read")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (c *Client) recordFailure(endpoint, errorType string) {
	if c.metrics != nil {
		c.metrics.RecordSourceRequestFailed(string(domain.SourceTypePubMed), endpoint, errorType)
	}
}

func (c *Client) emptyResult(start time.Time, total int) *papersources.SearchResult {
	return &papersources.SearchResult{
		Papers:         []*domain.Paper{},
		TotalResults:   total,
		Source:         domain.SourceTypePubMed,
		SearchDuration: time.Since(start),
	}
}

var (
	articleOpen  = []byte("<PubmedArticle")
	articleClose = []byte("</PubmedArticle>")
)

// splitArticles cuts an efetch batch into one byte slice per <PubmedArticle>
// element. A record missing its closing tag ends where the next one begins,
// so it fails to decode on its own without taking its neighbours with it.
func splitArticles(body []byte) [][]byte {
	var records [][]byte
	pos := indexArticleOpen(body, 0)
	for pos >= 0 {
		next := indexArticleOpen(body, pos+len(articleOpen))
		end := bytes.Index(body[pos:], articleClose)

		switch {
		case end < 0 && next < 0:
			records = append(records, body[pos:])
			return records
		case end < 0 || (next >= 0 && next < pos+end):
			records = append(records, body[pos:next])
			pos = next
		default:
			end = pos + end + len(articleClose)
			records = append(records, body[pos:end])
			pos = indexArticleOpen(body, end)
		}
	}
	return records
}

// indexArticleOpen finds the next <PubmedArticle> start tag at or after from,
// ignoring <PubmedArticleSet>.
func indexArticleOpen(body []byte, from int) int {
	for from < len(body) {
		i := bytes.Index(body[from:], articleOpen)
		if i < 0 {
			return -1
		}
		i += from
		after := i + len(articleOpen)
		if after < len(body) {
			switch body[after] {
			case '>', ' ', '\t', '\n', '\r':
				return i
			}
		}
		from = after
	}
	return -1
}

func decodeArticle(record []byte) (PubmedArticle, error) {
	var article PubmedArticle
	d := xml.NewDecoder(bytes.NewReader(record))
	d.Entity = xml.HTMLEntity
	if err := d.Decode(&article); err != nil {
		return PubmedArticle{}, fmt.Errorf("decoding article: %w", err)
	}
	if strings.TrimSpace(article.MedlineCitation.PMID.Value) == "" {
		return PubmedArticle{}, errMissingPMID
	}
	return article, nil
}

// articleToPaper converts a PubmedArticle to a domain.Paper. The paper ID
// is "pmid:<PMID>".
func articleToPaper(article PubmedArticle) *domain.Paper {
	citation := article.MedlineCitation
	pmid := strings.TrimSpace(citation.PMID.Value)

	journal := strings.TrimSpace(citation.Article.Journal.Title)
	if journal == "" {
		journal = strings.TrimSpace(citation.Article.Journal.ISOAbbreviation)
	}

	paper := &domain.Paper{
		ID:       "pmid:" + pmid,
		Title:    strings.TrimSpace(string(citation.Article.ArticleTitle)),
		Authors:  extractAuthors(citation.Article.AuthorList),
		Journal:  journal,
		Venue:    journal,
		Year:     extractYear(citation.Article),
		DOI:      extractDOI(citation.Article, article.PubmedData),
		PMID:     pmid,
		Abstract: extractAbstract(citation.Article.Abstract),
		Source:   domain.SourceTypePubMed,
	}

	for _, aid := range article.PubmedData.ArticleIDList.ArticleIDs {
		if aid.IDType == "pmc" && strings.TrimSpace(aid.Value) != "" {
			paper.IsOpenAccess = true
			break
		}
	}

	if list := citation.Article.PublicationTypeList; list != nil {
		for _, pt := range list.PublicationTypes {
			if v := strings.TrimSpace(pt.Value); v != "" {
				paper.PublicationTypes = append(paper.PublicationTypes, v)
			}
		}
	}

	return paper
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return strings.TrimSpace(eloc.Value)
		}
	}

	for _, aid := range pubmedData.ArticleIDList.ArticleIDs {
		if aid.IDType == "doi" {
			return strings.TrimSpace(aid.Value)
		}
	}

	return ""
}

// extractYear returns the journal issue year, falling back to MedlineDate
// ("2020 Jan-Feb") and then the electronic publication date. Nil when
// nothing parses.
func extractYear(article Article) *int {
	pubDate := article.Journal.JournalIssue.PubDate
	if y, err := strconv.Atoi(strings.TrimSpace(pubDate.Year)); err == nil {
		return &y
	}
	if y := yearFromMedlineDate(pubDate.MedlineDate); y > 0 {
		return &y
	}
	for _, ad := range article.ArticleDate {
		if y, err := strconv.Atoi(strings.TrimSpace(ad.Year)); err == nil {
			return &y
		}
	}
	return nil
}

func yearFromMedlineDate(medlineDate string) int {
	parts := strings.Fields(medlineDate)
	if len(parts) > 0 {
		yearStr := strings.Split(parts[0], "-")[0]
		if year, err := strconv.Atoi(yearStr); err == nil {
			return year
		}
	}
	return 0
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Text)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Text)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors returns display names in list order, skipping authors
// flagged invalid.
func extractAuthors(authorList *AuthorList) []string {
	if authorList == nil || len(authorList.Authors) == 0 {
		return []string{}
	}

	authors := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		name := strings.TrimSpace(a.CollectiveName)
		if name == "" {
			name = strings.TrimSpace(strings.TrimSpace(a.ForeName) + " " + strings.TrimSpace(a.LastName))
		}
		if name != "" {
			authors = append(authors, name)
		}
	}

	return authors
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

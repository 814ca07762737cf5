// Package main is the entry point for searchctl, a command-line client that
// runs the paper search pipeline in-process and prints JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-search-service/internal/app"
	"github.com/helixir/paper-search-service/internal/config"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

// version is set at build time via ldflags.
var version = "dev"

// Pipeline is the part of the search service the commands drive.
type Pipeline interface {
	Search(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
	PaperDetail(ctx context.Context, paperID, language string) (*domain.PaperDetail, error)
	Fulltext(ctx context.Context, paperID, language, difficulty string) (*domain.FulltextTranslation, error)
}

// Env wires the commands to their dependencies.
type Env struct {
	Out io.Writer
	// Open builds the pipeline. The returned func releases it.
	Open func(ctx context.Context, creds llm.Credentials) (Pipeline, func() error, error)
	// Tail consumes usage events until ctx is done.
	Tail func(ctx context.Context, groupID string, handler events.Handler) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// defaultRunTimeout bounds one command.
const defaultRunTimeout = 10 * time.Minute

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	provider string
	apiKey   string
	model    string
	compact  bool
	timeout  time.Duration
}

func (g *globalFlags) credentials() llm.Credentials {
	return llm.Credentials{
		Provider: strings.ToLower(strings.TrimSpace(g.provider)),
		APIKey:   strings.TrimSpace(g.apiKey),
		Model:    strings.TrimSpace(g.model),
	}
}

func (g *globalFlags) printer(out io.Writer) *jsonPrinter {
	return &jsonPrinter{out: out, compact: g.compact}
}

func newRootCmd(env Env) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:     "searchctl",
		Short:   "Search and summarize medical literature from the command line",
		Version: version,
		Long: `searchctl runs the paper search pipeline in-process: query transformation,
federated retrieval from Semantic Scholar and PubMed, deduplication, ranking
and multilingual summaries. Configuration is read the same way as the server
(config.yaml and PAPERSEARCH_* environment variables).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.provider, "llm-provider", "", "LLM provider for this run (anthropic, openai, gemini)")
	root.PersistentFlags().StringVar(&g.apiKey, "llm-api-key", "", "LLM API key for this run")
	root.PersistentFlags().StringVar(&g.model, "llm-model", "", "LLM model override")
	root.PersistentFlags().BoolVar(&g.compact, "compact", false, "print JSON on one line")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", defaultRunTimeout, "maximum duration of the command")

	root.AddCommand(
		newSearchCmd(env, g),
		newPaperCmd(env, g),
		newFulltextCmd(env, g),
		newEventsCmd(env, g),
	)
	return root
}

// withPipeline opens the pipeline, runs fn with caller credentials attached
// and releases the pipeline.
func withPipeline(cmd *cobra.Command, env Env, g *globalFlags, fn func(ctx context.Context, p Pipeline) error) (err error) {
	ctx := cmd.Context()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	creds := g.credentials()
	switch creds.Provider {
	case "", llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini:
	default:
		return fmt.Errorf("unsupported LLM provider %q", creds.Provider)
	}

	p, closeFn, err := env.Open(ctx, creds)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(llm.WithCredentials(ctx, creds), p)
}

type jsonPrinter struct {
	out     io.Writer
	compact bool
}

func (p *jsonPrinter) print(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetEscapeHTML(false)
	if !p.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func defaultEnv() Env {
	return Env{
		Out:  os.Stdout,
		Open: openPipeline,
		Tail: tailEvents,
	}
}

func loadConfig(creds llm.Credentials) (*config.Config, zerolog.Logger, error) {
	_ = godotenv.Load()
	exposeCredentials(creds)

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	// Keep stdout for JSON.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: cfg.Logging.TimeFormat,
	})
	return cfg, logger, nil
}

// exposeCredentials lets a run supplied only with --llm-api-key pass config
// validation, which requires a key for the default provider.
func exposeCredentials(creds llm.Credentials) {
	if creds.APIKey == "" {
		return
	}
	provider := creds.Provider
	if provider == "" {
		provider = os.Getenv(config.EnvPrefix + "_LLM_PROVIDER")
	} else {
		_ = os.Setenv(config.EnvPrefix+"_LLM_PROVIDER", provider)
	}
	if provider == "" {
		provider = llm.ProviderAnthropic
	}
	key := config.EnvPrefix + "_LLM_" + strings.ToUpper(provider) + "_API_KEY"
	if os.Getenv(key) == "" {
		_ = os.Setenv(key, creds.APIKey)
	}
}

func openPipeline(ctx context.Context, creds llm.Credentials) (Pipeline, func() error, error) {
	cfg, logger, err := loadConfig(creds)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, func() error { return a.Close(cfg.Server.ShutdownTimeout) }, nil
}

func tailEvents(ctx context.Context, groupID string, handler events.Handler) error {
	cfg, logger, err := loadConfig(llm.Credentials{})
	if err != nil {
		return err
	}
	kc := app.KafkaConfig(cfg.Events)
	if groupID != "" {
		kc.GroupID = groupID
	}

	listener, err := events.NewListener(kc, handler, logger)
	if err != nil {
		return fmt.Errorf("create listener: %w", err)
	}
	defer func() { _ = listener.Close() }()

	if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
)

func newSearchCmd(env Env, g *globalFlags) *cobra.Command {
	var (
		req              domain.SearchRequest
		yearFrom, yearTo int
	)

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search for papers matching a question in any supported language",
		Long: `Search transforms the question into academic queries, searches every enabled
source, deduplicates and ranks the results, and prints one page with
per-paper summaries and an evidence overview.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.TrimSpace(strings.Join(args, " "))
			if req.Query == "" {
				return errors.New("query must not be empty")
			}
			if yearFrom > 0 || yearTo > 0 {
				req.Filters = &domain.SearchFilters{}
				if yearFrom > 0 {
					req.Filters.YearFrom = domain.IntPtr(yearFrom)
				}
				if yearTo > 0 {
					req.Filters.YearTo = domain.IntPtr(yearTo)
				}
			}

			return withPipeline(cmd, env, g, func(ctx context.Context, p Pipeline) error {
				resp, err := p.Search(ctx, req)
				if err != nil {
					return err
				}
				return g.printer(env.Out).print(resp)
			})
		},
	}

	cmd.Flags().StringVarP(&req.Language, "language", "l", "", "response language (ja, en, zh, ko, es, fr, de)")
	cmd.Flags().IntVar(&req.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&req.PerPage, "per-page", 0, "results per page (default from config)")
	cmd.Flags().IntVar(&yearFrom, "year-from", 0, "earliest publication year")
	cmd.Flags().IntVar(&yearTo, "year-to", 0, "latest publication year")
	return cmd
}

func newPaperCmd(env Env, g *globalFlags) *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:   "paper PAPER_ID",
		Short: "Show one paper with its summary and abstract translations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, env, g, func(ctx context.Context, p Pipeline) error {
				detail, err := p.PaperDetail(ctx, args[0], language)
				if err != nil {
					return err
				}
				return g.printer(env.Out).print(detail)
			})
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "response language")
	return cmd
}

func newFulltextCmd(env Env, g *globalFlags) *cobra.Command {
	var language, difficulty string

	cmd := &cobra.Command{
		Use:   "fulltext PAPER_ID",
		Short: "Translate the open-access PDF of a paper section by section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, env, g, func(ctx context.Context, p Pipeline) error {
				result, err := p.Fulltext(ctx, args[0], language, difficulty)
				if err != nil {
					return err
				}
				return g.printer(env.Out).print(result)
			})
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "", "response language")
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", string(domain.DifficultyLayperson), "reading level (expert, layperson, children)")
	return cmd
}

func newEventsCmd(env Env, g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the usage event feed",
	}

	var groupID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print usage events from Kafka as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printer := g.printer(env.Out)
			printer.compact = true
			return env.Tail(cmd.Context(), groupID, func(_ context.Context, event events.UsageEvent) error {
				return printer.print(event)
			})
		},
	}
	tail.Flags().StringVar(&groupID, "group", "", "consumer group (default from config)")

	cmd.AddCommand(tail)
	return cmd
}

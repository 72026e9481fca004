package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/app"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

type crawlOptions struct {
	connection   string
	seeds        []string
	include      []string
	exclude      []string
	maxDepth     int
	maxDocuments int
	budget       int
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one job in the
// foreground and prints its result.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl job against one connection",
		Long: `Crawls one configured connection in the foreground, ingesting new and
changed documents and removing vanished ones, then prints the job record and
per-document outcomes as JSON. Interrupting the command cancels the job.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), appInstance, *opts, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.connection, "connection", "", "name of the configured connection to crawl")
	flags.StringSliceVar(&opts.seeds, "seed", nil, "document identifier to start from (defaults to the connection's roots)")
	flags.StringSliceVar(&opts.include, "include", nil, "glob of document identifiers to include")
	flags.StringSliceVar(&opts.exclude, "exclude", nil, "glob of document identifiers to exclude")
	flags.IntVar(&opts.maxDepth, "max-depth", -1, "maximum container depth (0 = unlimited, default from config)")
	flags.IntVar(&opts.maxDocuments, "max-documents", -1, "maximum documents processed (0 = unlimited, default from config)")
	flags.IntVar(&opts.budget, "budget", -1, "time budget in seconds (0 = unlimited, default from config)")
	_ = cmd.MarkFlagRequired("connection")
	return cmd
}

func runCrawl(ctx context.Context, a *app.App, opts crawlOptions, out io.Writer) error {
	if len(a.Workers) == 0 {
		return fmt.Errorf("no workers configured")
	}
	if _, err := a.Connectors.Connector(opts.connection); err != nil {
		return fmt.Errorf("connection %q: %w", opts.connection, err)
	}
	if _, err := crawler.NewFilter(opts.include, opts.exclude); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	params := crawler.JobParameters{
		Connection:    opts.connection,
		Seeds:         opts.seeds,
		MaxDepth:      flagOrDefault(opts.maxDepth, a.Config.Crawler.MaxDepthDefault),
		MaxDocuments:  flagOrDefault(opts.maxDocuments, a.Config.Crawler.MaxDocumentsDefault),
		BudgetSeconds: flagOrDefault(opts.budget, a.Config.Crawler.BudgetSeconds),
		Include:       opts.include,
		Exclude:       opts.exclude,
		Tags:          map[string]string{"source": "cli"},
	}
	jobID := uuid.NewString()
	if err := a.JobStore.CreateJob(ctx, crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Parameters: params,
	}); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	a.Logger.Info("crawl started", zap.String("job_id", jobID), zap.String("connection", opts.connection))
	job := a.Workers[0].RunJob(ctx, crawler.QueueItem{JobID: jobID, Params: params, Attempt: 1})

	docs, err := a.JobStore.ListDocuments(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(crawler.JobResult{Job: job, Documents: docs}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if job.Status != crawler.JobStatusSucceeded {
		return fmt.Errorf("job %s finished %s: %s", jobID, job.Status, job.ErrorText)
	}
	return nil
}

func flagOrDefault(v, def int) int {
	if v < 0 {
		return def
	}
	return v
}

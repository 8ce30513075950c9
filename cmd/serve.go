package cmd

import (
	"os/signal"
	"syscall"

	"github.com/chatstack/chatstack/internal/chunk"
	"github.com/chatstack/chatstack/internal/ingest"
	"github.com/chatstack/chatstack/internal/provider"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion worker until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	embedder := provider.NewEmbedder(a.cfg.Providers.OpenAIKey, a.logger,
		provider.WithEmbedBatchSize(a.cfg.Worker.EmbedBatch))

	pipeline := ingest.NewPipeline(a.store, embedder, chunk.Options{
		MaxTokens:     a.cfg.Chunker.MaxTokens,
		OverlapTokens: a.cfg.Chunker.OverlapTokens,
	}, a.cfg.Worker.EmbedBatch, a.logger)

	queue := ingest.NewQueue()
	worker := ingest.NewWorker(queue, pipeline, a.store, a.logger,
		ingest.WithConcurrency(a.cfg.Worker.Concurrency),
		ingest.WithLimiter(ingest.NewRateLimiter(a.cfg.Worker.JobsPerMinute)),
		ingest.WithRetryConfig(ingest.RetryConfig{
			MaxRetries:      a.cfg.Worker.MaxRetries,
			InitialInterval: ingest.DefaultRetryConfig().InitialInterval,
			MaxInterval:     ingest.DefaultRetryConfig().MaxInterval,
		}))

	a.logger.Info("worker started",
		"concurrency", a.cfg.Worker.Concurrency,
		"jobs_per_minute", a.cfg.Worker.JobsPerMinute)

	worker.Run(ctx)

	a.logger.Info("worker stopped")
	return nil
}

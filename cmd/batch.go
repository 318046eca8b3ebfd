package main

import (
	"bufio"
	"bytes"
	"context"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
)

var (
	batchFile   string
	batchUserID string
	batchLimit  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Process a list of documents concurrently",
	Long:  "Reads one file URL per line (blank lines and # comments are skipped) and runs the full pipeline on each. Individual failures are recorded and sent to the dead-letter queue without aborting the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		data, err := readInput(batchFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		urls := parseURLList(data)

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		_, err = processBatch(ctx, urls, batchLimit, cfg.Batch.MaxConcurrentDocuments, cfg.Batch.RequestsPerSecond,
			func(ctx context.Context, fileURL string) (*pipeline.Result, error) {
				return env.Processor.Process(ctx, batchUserID, fileURL)
			})
		return err
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "-", "file with one document URL per line, or - for stdin")
	batchCmd.Flags().StringVar(&batchUserID, "user", "", "user the documents belong to (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of documents to process")
	_ = batchCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(batchCmd)
}

// parseURLList returns the non-blank, non-comment lines of data.
func parseURLList(data []byte) []string {
	var urls []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls
}

// processFunc runs the pipeline for one document.
type processFunc func(ctx context.Context, fileURL string) (*pipeline.Result, error)

// batchSummary counts batch outcomes.
type batchSummary struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Review    int64 `json:"requires_review"`
}

// processBatch applies limit, then processes urls concurrently. rps <= 0
// disables rate limiting.
func processBatch(ctx context.Context, urls []string, limit, concurrency int, rps float64, process processFunc) (batchSummary, error) {
	if len(urls) == 0 {
		zap.L().Info("no documents to process")
		return batchSummary{}, nil
	}

	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("documents", len(urls)),
		zap.Int("concurrency", concurrency),
		zap.Float64("rps", rps),
	)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, review atomic.Int64

	for _, fileURL := range urls {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			log := zap.L().With(zap.String("file_url", fileURL))

			result, err := process(gctx, fileURL)
			if err != nil {
				failed.Add(1)
				log.Error("document processing failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			if result != nil && result.Document != nil {
				if result.Document.Status == model.StatusRequiresReview {
					review.Add(1)
				}
				log.Info("document processed",
					zap.String("document_id", result.Document.ID),
					zap.String("status", string(result.Document.Status)),
					zap.Float64("cost", result.Document.TotalCost),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return batchSummary{}, eris.Wrap(err, "batch processing")
	}

	summary := batchSummary{Succeeded: succeeded.Load(), Failed: failed.Load(), Review: review.Load()}
	zap.L().Info("batch complete",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("requires_review", summary.Review),
	)
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "batch interrupted")
	}
	return summary, nil
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pool and the crawl schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Run(cmd.Context())
		},
	}
}

func newCrawlCmd() *cobra.Command {
	var trigger string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and print its result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			t := crawler.Trigger(trigger)
			if t != crawler.TriggerManual && t != crawler.TriggerCron {
				return fmt.Errorf("--trigger must be %q or %q", crawler.TriggerManual, crawler.TriggerCron)
			}
			result, runErr := appInstance.RunNow(cmd.Context(), t)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}
			appInstance.Logger().Info("crawl command finished",
				zap.String("job_id", result.JobID),
				zap.Int("uploaded_chunks", result.UploadedChunks),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", string(crawler.TriggerManual), "trigger recorded on the job (manual or cron)")
	return cmd
}

func newItemsCmd() *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:     "items",
		Short:   "Print the items persisted by one job",
		Example: "  feedcrawler items --job 2024-03-01T09:30:00.000Z",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			jobTime, err := crawler.ParseJobTimestamp(job)
			if err != nil {
				return err
			}
			items, err := appInstance.ReadItems(cmd.Context(), jobTime)
			if err != nil {
				return err
			}
			if items == nil {
				items = []crawler.CrawlItem{}
			}
			return printJSON(cmd, items)
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "job timestamp, as used in chunk keys")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/dlq"
	"github.com/barrowworks/barrow/internal/logging"
)

var dlqLimit int

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead letter queue inspection",
	Long:  "Inspect and manage records parked after repeated processing failures.",
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead letter queue counters",
	RunE:  runDLQStats,
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parked records",
	RunE:  runDLQList,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all parked records",
	RunE:  runDLQPurge,
}

func init() {
	rootCmd.AddCommand(dlqCmd)
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 20, "maximum records to list")
}

func withQueue(fn func(ctx context.Context, queue dlq.Queue) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queue, closeQueue, err := openQueue(ctx, cfg, logging.Default())
	if err != nil {
		return err
	}
	defer closeQueue()
	if queue == nil {
		return fmt.Errorf("dead letter queue is disabled in configuration")
	}

	return fn(ctx, queue)
}

func runDLQStats(cmd *cobra.Command, args []string) error {
	return withQueue(func(ctx context.Context, queue dlq.Queue) error {
		data, err := json.MarshalIndent(queue.Stats(ctx), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
}

func runDLQList(cmd *cobra.Command, args []string) error {
	return withQueue(func(ctx context.Context, queue dlq.Queue) error {
		records, err := queue.List(ctx, dlqLimit)
		if err != nil {
			return fmt.Errorf("list dlq records: %w", err)
		}
		if len(records) == 0 {
			fmt.Println("No parked records")
			return nil
		}

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	return withQueue(func(ctx context.Context, queue dlq.Queue) error {
		if err := queue.Purge(ctx); err != nil {
			return fmt.Errorf("purge dlq: %w", err)
		}
		fmt.Println("Dead letter queue purged")
		return nil
	})
}

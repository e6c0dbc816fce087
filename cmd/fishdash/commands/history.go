package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fishdash/internal/history"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent jobs and session statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(reset)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "clear recorded history and statistics")
	return cmd
}

func runHistory(reset bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := history.Open(ctx, cfg.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if reset {
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset history: %w", err)
		}
		fmt.Println("History cleared.")
		return nil
	}

	records := store.Recent(ctx)
	if len(records) == 0 {
		fmt.Println("No recorded jobs.")
	}
	for _, rec := range records {
		label := successColor.Sprint("ok  ")
		if rec.Status != "completed" {
			label = failColor.Sprint("fail")
		}
		fmt.Printf("%s  %s  %d images (%d failed)  %s\n",
			label,
			rec.FinishedAt.Local().Format("2006-01-02 15:04"),
			rec.TotalImages,
			rec.FailedImages,
			humanize.RelTime(rec.FinishedAt, time.Now(), "ago", "from now"))
		if rec.ErrorMessage != "" {
			dimColor.Printf("      %s\n", rec.ErrorMessage)
		}
	}

	stats := store.Stats(ctx)
	fmt.Println()
	stageColor.Println("Session totals")
	fmt.Printf("  jobs: %d completed, %d failed\n", stats.JobsCompleted, stats.JobsFailed)
	fmt.Printf("  images: %d analyzed, %d failed\n", stats.ImagesAnalyzed, stats.ImagesFailed)
	fmt.Printf("  processing time: %s\n", (time.Duration(stats.TotalProcessingSeconds * float64(time.Second))).Round(time.Second))
	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fishdash/internal/api"
	"fishdash/internal/faults"
	"fishdash/internal/history"
	"fishdash/internal/optimize"
	"fishdash/internal/orchestrator"
	"fishdash/internal/resources"
	"fishdash/internal/workers"
)

var (
	stageColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	failColor    = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.Faint)
)

// RunCommand holds the flags for the run command.
type RunCommand struct {
	gridSize float64
	noViz    bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run <image>...",
		Short: "Upload a batch of images and run analysis to completion",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.run(args)
		},
	}

	cmd.Flags().Float64Var(&rc.gridSize, "grid-size", 0, "calibration grid square size in inches (default from config)")
	cmd.Flags().BoolVar(&rc.noViz, "no-visualizations", false, "skip server-side visualization generation")
	return cmd
}

func (rc *RunCommand) run(paths []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer serveMetrics(cfg.MetricsAddr, logger)()

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot read %s: %w", path, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.HistoryPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tracker := resources.NewTracker(logger)
	monitorCfg := resources.DefaultMonitorConfig()
	monitorCfg.LimitBytes = cfg.MemoryLimitBytes
	monitorCfg.Threshold = cfg.MemoryThreshold
	monitor := resources.NewMonitor(monitorCfg, tracker, logger)
	monitor.Start()
	defer monitor.Stop()

	pipeline := optimize.NewPipeline(
		optimize.NewGenerator(optimize.GeneratorConfig{
			MaxDimension: cfg.ThumbnailMaxDim,
			Quality:      cfg.ThumbnailQuality,
		}, logger),
		tracker,
		workers.ForCPU(cfg.ThumbnailConcurrency),
		logger,
	)
	defer pipeline.CleanupAll()

	// Thumbnails are purely local previews; generate them alongside the
	// remote job.
	ids := make([]string, len(paths))
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	go func() {
		if _, err := pipeline.ProcessFiles(ctx, paths, ids); err != nil {
			logger.Warn("thumbnail pipeline aborted", zap.Error(err))
		}
	}()

	client := api.New(cfg.ServerURL, api.Options{
		UploadTimeout:  cfg.UploadTimeout(),
		RequestTimeout: 30 * time.Second,
		PollTimeout:    cfg.PollTimeout(),
	}, logger)

	orch := orchestrator.New(client, store, orchestrator.Options{
		PollInterval:      cfg.PollInterval(),
		MaxPollIterations: cfg.MaxPollIterations,
		MaxRetries:        cfg.MaxRetries,
	}, logger)

	analysisCfg := api.AnalysisConfig{
		GridSquareSizeInches:  cfg.GridSquareSize,
		IncludeVisualizations: cfg.IncludeVisualizations && !rc.noViz,
	}
	if rc.gridSize > 0 {
		analysisCfg.GridSquareSizeInches = rc.gridSize
	}

	files := make([]api.File, len(paths))
	for i, path := range paths {
		files[i] = api.File{Name: filepath.Base(path), Path: path}
	}

	if err := orch.Start(ctx, files, analysisCfg); err != nil {
		cls := faults.Classify(err)
		failColor.Println(cls.Message)
		for _, s := range cls.Suggestions {
			dimColor.Printf("  - %s\n", s)
		}
		return errors.New(cls.Message)
	}
	stageColor.Printf("Uploading %d images to %s\n", len(files), cfg.ServerURL)

	done := orch.Done()
	events := orch.Events()
	var lastStage orchestrator.Stage
	var lastLine time.Time

	for {
		select {
		case <-ctx.Done():
			orch.Cancel()
			fmt.Println()
			failColor.Println("Cancelled.")
			return errors.New("job cancelled")

		case job := <-events:
			renderProgress(job, &lastStage, &lastLine)

		case <-done:
			return renderFinal(orch.Snapshot())
		}
	}
}

func renderProgress(job orchestrator.Job, lastStage *orchestrator.Stage, lastLine *time.Time) {
	if job.Stage != *lastStage {
		*lastStage = job.Stage
		switch job.Stage {
		case orchestrator.StageAnalyzing:
			stageColor.Printf("Analyzing batch %s\n", job.BatchID)
		case orchestrator.StageUploading:
			if job.RetryCount > 0 {
				dimColor.Printf("Retry %d: uploading again\n", job.RetryCount)
			}
		}
	}

	// Progress lines are throttled; the stream is latest-value so
	// skipped snapshots are already stale.
	if time.Since(*lastLine) < 200*time.Millisecond {
		return
	}
	*lastLine = time.Now()

	switch job.Stage {
	case orchestrator.StageUploading:
		p := job.Upload
		if p.BytesTotal > 0 {
			fmt.Printf("  %s / %s (%.0f%%, %s/s)\n",
				humanize.Bytes(uint64(p.BytesUploaded)),
				humanize.Bytes(uint64(p.BytesTotal)),
				p.Percent(),
				humanize.Bytes(uint64(p.BytesPerSecond)))
		}
	case orchestrator.StageAnalyzing:
		if a := job.Analysis; a != nil {
			fmt.Printf("  %d/%d images (%.0f%%)\n", a.CompletedImages, a.TotalImages, a.ProgressPercent)
		}
	}
}

func renderFinal(job orchestrator.Job) error {
	switch job.Stage {
	case orchestrator.StageCompleted:
		successColor.Println("Analysis complete.")
		if a := job.Analysis; a != nil {
			fmt.Printf("  %d images analyzed, %d failed\n", a.CompletedImages, a.FailedImages)
		}
		if job.Result != nil {
			printSummary(job.Result)
		}
		return nil

	case orchestrator.StageFailed:
		failColor.Println("Analysis failed.")
		if job.Err != nil {
			fmt.Printf("  %s\n", job.Err.Message)
			for _, s := range job.Err.Suggestions {
				dimColor.Printf("  - %s\n", s)
			}
			return errors.New(job.Err.Message)
		}
		return errors.New("job failed")

	default:
		return nil
	}
}

func printSummary(result *api.ComprehensiveBatchResult) {
	stats := result.BatchAnalysis.PopulationStatistics
	if stats.TotalFish > 0 {
		fmt.Printf("  %d fish detected across the batch\n", stats.TotalFish)
	}
	if len(stats.SizeClassification) > 0 {
		fmt.Printf("  size classes: %s\n", formatSizeClasses(stats.SizeClassification))
	}
	for _, insight := range stats.Insights {
		dimColor.Printf("  %s: %s\n", insight.Title, insight.Insight)
	}
	if len(result.DownloadURLs) > 0 {
		fmt.Println("  downloads:")
		for name, url := range result.DownloadURLs {
			fmt.Printf("    %s: %s\n", name, url)
		}
	}
}

func formatSizeClasses(classes map[string]api.SizeClassification) string {
	parts := make([]string, 0, len(classes))
	names := make([]string, 0, len(classes))
	for class := range classes {
		names = append(names, class)
	}
	slices.Sort(names)
	for _, class := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", class, classes[class].Count))
	}
	return strings.Join(parts, " ")
}

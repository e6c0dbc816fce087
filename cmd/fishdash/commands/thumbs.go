package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fishdash/internal/optimize"
	"fishdash/internal/resources"
	"fishdash/internal/workers"
)

// NewThumbsCommand creates the thumbs command.
func NewThumbsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "thumbs <image>...",
		Short: "Generate local preview thumbnails only",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThumbs(args)
		},
	}
}

func runThumbs(paths []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := resources.NewTracker(logger)
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

	ids := make([]string, len(paths))
	for i := range ids {
		ids[i] = uuid.NewString()
	}

	results, err := pipeline.ProcessFiles(ctx, paths, ids)
	if err != nil {
		return err
	}

	failed := 0
	for i, path := range paths {
		file, ok := results[ids[i]]
		if !ok {
			failColor.Printf("%s: failed\n", filepath.Base(path))
			failed++
			continue
		}
		fmt.Printf("%s: %dx%d, %s -> %s\n",
			filepath.Base(path),
			file.Width, file.Height,
			humanize.Bytes(uint64(file.OriginalBytes)),
			humanize.Bytes(uint64(file.ThumbnailBytes)))
	}

	fmt.Printf("%d of %d thumbnails generated\n", len(results), len(paths))
	if failed > 0 {
		return fmt.Errorf("%d files could not be processed", failed)
	}
	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"fishdash/internal/api"
	"fishdash/internal/faults"
)

// AnalyzeCommand holds the flags for the analyze command.
type AnalyzeCommand struct {
	gridSize float64
	noViz    bool
}

// NewAnalyzeCommand creates the analyze command for single images.
func NewAnalyzeCommand() *cobra.Command {
	ac := &AnalyzeCommand{}

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Upload and analyze a single image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ac.run(args[0])
		},
	}

	cmd.Flags().Float64Var(&ac.gridSize, "grid-size", 0, "calibration grid square size in inches (default from config)")
	cmd.Flags().BoolVar(&ac.noViz, "no-visualizations", false, "skip server-side visualization generation")
	return cmd
}

func (ac *AnalyzeCommand) run(path string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	analysisCfg := api.AnalysisConfig{
		GridSquareSizeInches:  cfg.GridSquareSize,
		IncludeVisualizations: cfg.IncludeVisualizations && !ac.noViz,
	}
	if ac.gridSize > 0 {
		analysisCfg.GridSquareSizeInches = ac.gridSize
	}

	client := api.New(cfg.ServerURL, api.Options{
		UploadTimeout:  cfg.UploadTimeout(),
		RequestTimeout: 2 * time.Minute,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.UploadTimeout()+2*time.Minute)
	defer cancel()

	stageColor.Printf("Uploading %s\n", filepath.Base(path))
	uploaded, err := client.UploadSingle(ctx, api.File{Path: path}, analysisCfg)
	if err != nil {
		return classifiedErr("upload failed", err)
	}

	stageColor.Println("Analyzing")
	result, err := client.AnalyzeSingle(ctx, api.SingleAnalysisRequest{
		ImagePath:                  uploaded.FileInfo.FilePath,
		GridSquareSizeInches:       analysisCfg.GridSquareSizeInches,
		IncludeVisualizations:      analysisCfg.IncludeVisualizations,
		IncludeColorAnalysis:       true,
		IncludeLateralLineAnalysis: true,
	})
	if err != nil {
		return classifiedErr("analysis failed", err)
	}

	printResult(result)
	if result.Status == api.StatusFailed {
		return errors.New(result.ErrorMessage)
	}
	return nil
}

func classifiedErr(what string, err error) error {
	cls := faults.Classify(err)
	failColor.Printf("%s: %s\n", what, cls.Message)
	for _, s := range cls.Suggestions {
		dimColor.Printf("  - %s\n", s)
	}
	return fmt.Errorf("%s: %s", what, cls.Message)
}

func printResult(result *api.FishAnalysisResult) {
	if result.Status == api.StatusFailed {
		failColor.Println("Analysis failed.")
		if result.ErrorMessage != "" {
			fmt.Printf("  %s\n", result.ErrorMessage)
		}
		return
	}

	successColor.Println("Analysis complete.")
	for class, count := range result.Detections {
		fmt.Printf("  %s: %d\n", class, count)
	}
	for _, m := range result.Measurements {
		fmt.Printf("  %s: %.2f in\n", m.Label, m.DistanceInches)
	}
	cal := result.Calibration
	if cal.PixelsPerInch > 0 {
		dimColor.Printf("  calibration: %.1f px/in from %d squares (%s)\n",
			cal.PixelsPerInch, cal.DetectedSquares, cal.CalibrationQuality)
	}
	for name, p := range result.VisualizationPaths {
		dimColor.Printf("  %s: %s\n", name, p)
	}
}

package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fishdash/internal/api"
	"fishdash/internal/faults"
)

// NewHealthCommand creates the health command.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check remote service and model health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth()
		},
	}
}

func runHealth() error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client := api.New(cfg.ServerURL, api.Options{RequestTimeout: 10 * time.Second}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		cls := faults.Classify(err)
		failColor.Printf("%s is unreachable\n", cfg.ServerURL)
		fmt.Printf("  %s\n", cls.Message)
		for _, s := range cls.Suggestions {
			dimColor.Printf("  - %s\n", s)
		}
		return fmt.Errorf("health check failed: %s", cls.Message)
	}

	successColor.Printf("%s is %s\n", cfg.ServerURL, health.Status)
	if health.ModelLoaded {
		fmt.Println("  model: loaded")
	} else {
		failColor.Println("  model: not loaded")
	}
	for key, value := range health.ModelInfo {
		dimColor.Printf("  %s: %v\n", key, value)
	}
	return nil
}

package main

import (
	"context"
	"errors"

	"fab/enumerator/internal/container"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var workerCount int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover categories, then enumerate every leaf",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(ctx context.Context, app *container.Container) error {
			report, err := app.Service.Run(ctx)
			report.Log()
			return err
		})
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Expand the category tree into the registry",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(ctx context.Context, app *container.Container) error {
			report, err := app.Service.Discover(ctx)
			if report != nil {
				log.Infof("📁 %d new categories, %d pages fetched, %d pages skipped",
					report.Discovered, report.PagesFetched, len(report.SkippedPages))
			}
			return err
		})
	},
}

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Enumerate the leaf categories already in the registry",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(ctx context.Context, app *container.Container) error {
			report, err := app.Service.Enumerate(ctx)
			report.Log()
			return err
		})
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Publish one range job per leaf category and price range to the work queue",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(ctx context.Context, app *container.Container) error {
			_, err := app.Service.EnqueueAll(ctx)
			return err
		})
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume range jobs from the work queue until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		return withContainer(func(ctx context.Context, app *container.Container) error {
			workers := workerCount
			if workers <= 0 {
				workers = app.Config.Engine.Workers
			}
			if err := app.Service.RunWorkers(ctx, workers); !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("🛑 Workers stopped")
			return nil
		})
	},
}

func init() {
	workerCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "Number of job workers (default engine.workers)")

	rootCmd.AddCommand(runCmd, discoverCmd, enumerateCmd, enqueueCmd, workerCmd)
}

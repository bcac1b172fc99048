package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Import reconciles the streaming history files named on the command line.
//
// A partial result is still printed when the run is cancelled.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one history file or directory", shared.ErrMissingArgument)
	}

	batchSize := cmd.Int("batch-size")
	if batchSize == 0 {
		batchSize = r.config.Import.BatchSize
	}
	if batchSize < 1 || batchSize > services.MaxLookupIDs {
		return fmt.Errorf("%w: --batch-size must be between 1 and %d", shared.ErrInvalidArgument, services.MaxLookupIDs)
	}

	catalog, err := r.catalogFor()
	if err != nil {
		return err
	}

	store, closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	logger := r.logger
	if cmd.Bool("tui") {
		logger = shared.NewLogger(shared.NewFileLogWriter(r.config.Log))
		shared.SetLogLevel(logger, shared.ParseLogLevel(r.config.Log.Level))
	}

	reconciler := tasks.NewReconciler(store, catalog,
		tasks.WithBatchSize(batchSize),
		tasks.WithGovernor(tasks.NewGovernor(r.config.Import, logger, r.metrics)),
		tasks.WithBreaker(r.breakerFor()),
		tasks.WithLogger(logger),
		tasks.WithMetrics(r.metrics),
	)

	var res *tasks.ReconcileResult
	if cmd.Bool("tui") {
		res, err = r.runImportTUI(ctx, reconciler, paths)
	} else {
		res, err = reconciler.Run(ctx, paths, nil)
	}

	r.pushMetrics(ctx)

	if res == nil || (err != nil && res.Files == 0) {
		return err
	}
	if werr := r.writeReport(cmd, res, formatter.ImportSummary(res)); werr != nil && err == nil {
		err = werr
	}
	return err
}

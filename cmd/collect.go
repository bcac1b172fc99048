package main

import (
	"context"

	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Collect stores recently played tracks that are newer than the latest stored play.
func (r *Runner) Collect(ctx context.Context, cmd *cli.Command) error {
	library, err := r.libraryFor(ctx)
	if err != nil {
		return err
	}

	store, closeStore, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	governor := tasks.NewGovernor(r.config.Import, r.logger, r.metrics)
	res, err := tasks.NewCollector(store, library, governor, r.logger).Collect(ctx, nil)
	if err != nil {
		return err
	}

	return r.writeReport(cmd, res, formatter.CollectSummary(res))
}

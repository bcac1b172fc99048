package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/desertthunder/spx/internal/ui"
)

// runImportTUI runs reconciler under the progress view and returns its result once the view exits.
// The import has always returned by the time runImportTUI does, even when the view is killed.
func (r *Runner) runImportTUI(ctx context.Context, reconciler *tasks.Reconciler, paths []string) (*tasks.ReconcileResult, error) {
	model := ui.NewModel(ctx, func(ctx context.Context, progress chan<- tasks.ProgressUpdate) (*tasks.ReconcileResult, error) {
		return reconciler.Run(ctx, paths, progress)
	})

	p := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		model.Cancel()
		res, _ := model.Result()
		return res, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Result()
}

// Package ui implements a terminal progress view for history imports using bubbletea's Elm architecture.
//
// The view has two states:
//  1. [ImportView] : a spinner, a per-file progress bar and the latest batch and commit events
//  2. [ResultView] : the run summary
//
// The [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the Reconciler. The Reconciler never blocks on it, so a slow
// terminal drops updates rather than slowing the import.
package ui

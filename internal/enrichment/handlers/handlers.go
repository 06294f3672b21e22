// Package handlers implements the enrichment worker's per-task-type
// handlers (spec.md §4.9): alias detection, prosody interpretation,
// response mapping, intent/keyword extraction, and topic extraction.
package handlers

import (
	"github.com/JasonMadeSomething/voxscribe/internal/enrichment"
	"github.com/JasonMadeSomething/voxscribe/pkg/memory"
)

// failAll maps every task in tasks to a failed [enrichment.Result] carrying
// err, used when a batch-wide precondition (e.g. a failed store read that
// isn't per-item) makes individual processing impossible.
func failAll(tasks []memory.EnrichmentTask, err error) []enrichment.Result {
	results := make([]enrichment.Result, len(tasks))
	for i, t := range tasks {
		results[i] = enrichment.Result{TaskID: t.ID, Err: err}
	}
	return results
}

package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady checks that a self-hosted backend is reachable and pulls any
// of the named models it lacks, writing progress to w. Empty and repeated
// names are skipped.
func EnsureReady(ctx context.Context, m ModelManager, w io.Writer, models ...string) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("model server is not running")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if m.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := m.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, float64(p.Completed)/float64(p.Total)*100)
				return
			}
			fmt.Fprintf(w, "  %s\n", p.Status)
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

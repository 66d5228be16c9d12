package tools

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ternlabs/tern/internal/conversation"
	"github.com/ternlabs/tern/internal/logging"
)

// parallelSafe lists the read-only tools that may run concurrently.
// Anything not listed is assumed to mutate state and runs strictly
// sequentially, after all in-flight parallel work has drained.
var parallelSafe = map[string]bool{
	"read_file": true,
	"list_dir":  true,
	"web_fetch": true,
}

// ProgressFunc receives advisory status strings during tool execution.
type ProgressFunc func(status string)

// Scheduler executes a batch of tool calls, running contiguous runs of
// parallel-safe calls concurrently and everything else in request
// order. Results always come back in the order the calls were made,
// one tool-result block per call.
type Scheduler struct {
	registry *Registry
	progress ProgressFunc
}

func NewScheduler(registry *Registry, progress ProgressFunc) *Scheduler {
	if progress == nil {
		progress = func(string) {}
	}
	return &Scheduler{registry: registry, progress: progress}
}

// Run executes the given tool-use blocks and returns their results in
// request order. Individual tool failures surface as error-marked
// result content; Run itself does not fail.
func (s *Scheduler) Run(ctx context.Context, calls []conversation.ContentBlock) []conversation.ContentBlock {
	results := make([]conversation.ContentBlock, len(calls))

	i := 0
	for i < len(calls) {
		if parallelSafe[calls[i].Name] {
			j := i
			for j < len(calls) && parallelSafe[calls[j].Name] {
				j++
			}
			s.runParallel(ctx, calls[i:j], results[i:j])
			i = j
			continue
		}

		s.progress(fmt.Sprintf("Running %s…", calls[i].Name))
		logging.Infof("[Tools] executing %s (%s)", calls[i].Name, calls[i].ID)
		content := s.registry.Execute(ctx, calls[i].Name, calls[i].Input)
		results[i] = conversation.ToolResultBlock(calls[i].ID, content)
		i++
	}

	return results
}

// runParallel executes one contiguous batch of parallel-safe calls,
// writing each result into its index-correlated slot.
func (s *Scheduler) runParallel(ctx context.Context, calls, results []conversation.ContentBlock) {
	if len(calls) == 1 {
		s.progress(fmt.Sprintf("Running %s…", calls[0].Name))
		content := s.registry.Execute(ctx, calls[0].Name, calls[0].Input)
		results[0] = conversation.ToolResultBlock(calls[0].ID, content)
		return
	}

	s.progress(fmt.Sprintf("Running %d tools in parallel…", len(calls)))
	logging.Infof("[Tools] executing %d parallel-safe calls", len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		i := i
		g.Go(func() error {
			content := s.registry.Execute(gctx, calls[i].Name, calls[i].Input)
			results[i] = conversation.ToolResultBlock(calls[i].ID, content)
			return nil
		})
	}
	g.Wait()
}

package training

import (
	"fmt"
	"io"
	"sort"
)

// StatsHandler prints iteration losses and epoch summaries to a writer.
type StatsHandler struct {
	out io.Writer

	// Every controls how often iteration lines print; 1 prints every
	// iteration.
	Every int
}

// NewStatsHandler creates a handler printing to out every iteration.
func NewStatsHandler(out io.Writer) *StatsHandler {
	return &StatsHandler{out: out, Every: 1}
}

// OnIterationCompleted prints the current loss at the configured cadence.
func (h *StatsHandler) OnIterationCompleted(ctx *RunContext) error {
	if h.Every > 1 && ctx.EpochIteration%h.Every != 0 {
		return nil
	}
	_, err := fmt.Fprintf(h.out, "epoch %d/%d iter %d loss %.4f\n",
		ctx.Epoch, ctx.MaxEpochs, ctx.EpochIteration, ctx.LastLoss)
	return err
}

// OnEpochCompleted prints the epoch summary with any recorded metrics.
func (h *StatsHandler) OnEpochCompleted(ctx *RunContext) error {
	line := fmt.Sprintf("epoch %d/%d completed, last loss %.4f", ctx.Epoch, ctx.MaxEpochs, ctx.LastLoss)

	if len(ctx.Metrics) > 0 {
		names := make([]string, 0, len(ctx.Metrics))
		for name := range ctx.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			line += fmt.Sprintf(", %s %.4f", name, ctx.Metrics[name])
		}
	}

	_, err := fmt.Fprintln(h.out, line)
	return err
}

package training

// Handler observes engine progress. Handlers run synchronously in attach
// order; an error from any handler fails the run.
type Handler interface {
	// OnIterationCompleted fires after every optimization or evaluation
	// step, with the iteration counters and last loss already updated.
	OnIterationCompleted(ctx *RunContext) error

	// OnEpochCompleted fires after the last iteration of each epoch.
	OnEpochCompleted(ctx *RunContext) error
}

// BaseHandler is a no-op Handler for embedding, so concrete handlers only
// implement the events they care about.
type BaseHandler struct{}

func (BaseHandler) OnIterationCompleted(*RunContext) error { return nil }
func (BaseHandler) OnEpochCompleted(*RunContext) error     { return nil }

func fireIterationCompleted(handlers []Handler, ctx *RunContext) error {
	for _, h := range handlers {
		if err := h.OnIterationCompleted(ctx); err != nil {
			return err
		}
	}
	return nil
}

func fireEpochCompleted(handlers []Handler, ctx *RunContext) error {
	for _, h := range handlers {
		if err := h.OnEpochCompleted(ctx); err != nil {
			return err
		}
	}
	return nil
}

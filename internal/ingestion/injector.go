package ingestion

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"context"
)

// Injector funnels events into the core's request channel and waits for the
// outcome. Every transport goes through it: HTTP handlers need the result
// to choose a status code, and the NATS shell needs it to ack or nak. The
// funnel is what keeps execution single-threaded no matter how many
// surfaces feed it.
type Injector struct {
	requests chan<- core.Request
}

func NewInjector(requests chan<- core.Request) *Injector {
	return &Injector{requests: requests}
}

// Submit sends one event to the core and blocks until the core applies or
// rejects it. The reply channel is buffered so a caller that gives up on
// the context cannot block the core's reply send.
func (i *Injector) Submit(ctx context.Context, evt event.Event) error {
	reply := make(chan error, 1)

	select {
	case i.requests <- core.Request{Event: evt, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ingestion_test

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ingestion"
	"context"
	"errors"
	"testing"
	"time"
)

func priceEvent() *event.PriceUpdate {
	return &event.PriceUpdate{
		AssetSymbol:   "WETH",
		Price:         300000000000,
		FeedDecimals:  8,
		FeedSequence:  1,
		FeedTimestamp: 1700000000000000,
	}
}

func TestInjectorSubmit_DeliversCoreReply(t *testing.T) {
	requests := make(chan core.Request, 1)
	injector := ingestion.NewInjector(requests)

	go func() {
		req := <-requests
		req.Reply <- core.ErrZeroAmount
	}()

	err := injector.Submit(context.Background(), priceEvent())
	if !errors.Is(err, core.ErrZeroAmount) {
		t.Fatalf("got %v, want the core's reply", err)
	}
}

func TestInjectorSubmit_ContextGuardsSend(t *testing.T) {
	requests := make(chan core.Request) // nobody consuming
	injector := ingestion.NewInjector(requests)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := injector.Submit(ctx, priceEvent())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
}

func TestInjectorSubmit_AbandonedCallerDoesNotBlockReply(t *testing.T) {
	requests := make(chan core.Request, 1)
	injector := ingestion.NewInjector(requests)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan core.Request, 1)
	go func() {
		req := <-requests
		received <- req
		cancel()
	}()

	err := injector.Submit(ctx, priceEvent())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want Canceled", err)
	}

	// The reply channel is buffered, so the core's late reply to the
	// abandoned caller must not block.
	req := <-received
	sent := make(chan struct{})
	go func() {
		req.Reply <- nil
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("late reply blocked")
	}
}

package ingestion_test

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/ingestion"
	"SynthLedger/internal/testutil"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// setupJetStream connects to the test NATS server and clears the module's
// streams so each test observes only its own messages.
func setupJetStream(t *testing.T) (jetstream.JetStream, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	url := testutil.TestNATSURL()
	nc, js, err := ingestion.ConnectNATS(url)
	if err != nil {
		t.Skipf("NATS unavailable at %s: %v", url, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, stream := range []string{"SYNTH_OPS", "SYNTH_PRICES", "SYNTH_LEDGER_EVENTS"} {
		js.DeleteStream(ctx, stream)
	}

	return js, func() { nc.Close() }
}

func TestSubscribeDeliversRawEvents(t *testing.T) {
	js, cleanup := setupJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		t.Fatalf("ensure streams: %v", err)
	}

	rawChan := make(chan ingestion.RawEvent, 16)
	sub := ingestion.NewNATSSubscriber(js, rawChan)
	if err := sub.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Stop()

	opID := uuid.New()
	userID := uuid.New()
	depositWire := fmt.Sprintf(`{
		"operation_id": "%s",
		"user_id": "%s",
		"asset": "WETH",
		"amount": "5000000000000000000",
		"sequence": 1,
		"timestamp_us": 1700000000000000
	}`, opID, userID)
	if _, err := js.Publish(ctx, "synth.ops.deposit.WETH", []byte(depositWire)); err != nil {
		t.Fatalf("publish deposit: %v", err)
	}

	priceWire := `{"asset":"WETH","price":300000000000,"feed_decimals":8,"feed_sequence":5,"feed_timestamp_us":1700000000000000}`
	if _, err := js.Publish(ctx, "synth.prices.WETH", []byte(priceWire)); err != nil {
		t.Fatalf("publish price: %v", err)
	}

	// Deposits and prices arrive on independent consumers, so collect until
	// both showed up. The deposit gets nakked once to prove redelivery.
	var gotDeposit, gotPrice bool
	nakkedDeposit := false
	deadline := time.After(10 * time.Second)
	for !gotDeposit || !gotPrice {
		select {
		case raw := <-rawChan:
			switch {
			case strings.HasPrefix(raw.Subject, "synth.ops.deposit."):
				if !nakkedDeposit {
					nakkedDeposit = true
					raw.NakFunc()
					continue
				}
				evt, err := ingestion.ParseRawEvent(raw, "DepositCollateral")
				if err != nil {
					t.Fatalf("parse deposit: %v", err)
				}
				dep, ok := evt.(*event.DepositCollateral)
				if !ok {
					t.Fatalf("parsed type = %T", evt)
				}
				if dep.OperationID != opID || dep.UserID != userID {
					t.Errorf("deposit ids = %s / %s", dep.OperationID, dep.UserID)
				}
				if dep.AssetSymbol != "WETH" || dep.Amount.String() != "5000000000000000000" {
					t.Errorf("deposit = %s %s", dep.AssetSymbol, dep.Amount)
				}
				raw.AckFunc()
				gotDeposit = true

			case strings.HasPrefix(raw.Subject, "synth.prices."):
				evt, err := ingestion.ParseRawEvent(raw, "PriceUpdate")
				if err != nil {
					t.Fatalf("parse price: %v", err)
				}
				price, ok := evt.(*event.PriceUpdate)
				if !ok {
					t.Fatalf("parsed type = %T", evt)
				}
				if price.AssetSymbol != "WETH" || price.Price != 300000000000 || price.FeedDecimals != 8 {
					t.Errorf("price = %+v", price)
				}
				raw.AckFunc()
				gotPrice = true

			default:
				t.Fatalf("unexpected subject %s", raw.Subject)
			}

		case <-deadline:
			t.Fatalf("timed out: deposit=%v price=%v", gotDeposit, gotPrice)
		}
	}

	if !nakkedDeposit {
		t.Error("deposit was never nakked")
	}
}

func TestOutboundPublisherRoundTrip(t *testing.T) {
	js, cleanup := setupJetStream(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		t.Fatalf("ensure outbound stream: %v", err)
	}

	pubChan := make(chan ingestion.PublishableEvent, 4)
	publisher := ingestion.NewOutboundPublisher(js, pubChan)
	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()

	asset := "WETH"
	stateHash := bytes.Repeat([]byte{0xAB}, 32)
	pubChan <- ingestion.PublishableEvent{
		Sequence:       42,
		EventType:      "DepositCollateral",
		IdempotencyKey: "op-42",
		Asset:          &asset,
		Payload:        json.RawMessage(`{"amount":"5000000000000000000"}`),
		StateHash:      stateHash,
		Timestamp:      time.Now(),
	}
	pubChan <- ingestion.PublishableEvent{
		Sequence:       43,
		EventType:      "PriceUpdate",
		IdempotencyKey: "price:WETH:5",
		Payload:        json.RawMessage(`{"asset":"WETH"}`),
		StateHash:      stateHash,
		Timestamp:      time.Now(),
	}

	close(pubChan)
	if err := <-done; err != nil {
		t.Fatalf("publisher run: %v", err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, "SYNTH_LEDGER_EVENTS", jetstream.ConsumerConfig{
		Durable:       "outbound-reader",
		FilterSubject: "synth.ledger.events.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}

	batch, err := consumer.Fetch(2, jetstream.FetchMaxWait(5*time.Second))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	subjects := make(map[string]ingestion.PublishableEvent)
	for msg := range batch.Messages() {
		var evt ingestion.PublishableEvent
		if err := json.Unmarshal(msg.Data(), &evt); err != nil {
			t.Fatalf("unmarshal outbound event: %v", err)
		}
		subjects[msg.Subject()] = evt
		msg.Ack()
	}
	if err := batch.Error(); err != nil {
		t.Fatalf("batch: %v", err)
	}

	// Asset-bearing operations append the asset to the subject.
	deposit, ok := subjects["synth.ledger.events.DepositCollateral.WETH"]
	if !ok {
		t.Fatalf("deposit subject missing, got %v", subjectKeys(subjects))
	}
	if deposit.Sequence != 42 || deposit.IdempotencyKey != "op-42" {
		t.Errorf("deposit = %+v", deposit)
	}
	if !bytes.Equal(deposit.StateHash, stateHash) {
		t.Errorf("state hash = %x", deposit.StateHash)
	}

	price, ok := subjects["synth.ledger.events.PriceUpdate"]
	if !ok {
		t.Fatalf("price subject missing, got %v", subjectKeys(subjects))
	}
	if price.Sequence != 43 || price.Asset != nil {
		t.Errorf("price = %+v", price)
	}
}

func subjectKeys(m map[string]ingestion.PublishableEvent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

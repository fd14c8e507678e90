package events

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Kind names a state transition.
type Kind string

const (
	LedgerInitialized       Kind = "ledger.initialized"
	EscrowTaskCreated       Kind = "escrow.task_created"
	EscrowTaskCompleted     Kind = "escrow.task_completed"
	EscrowTaskCancelled     Kind = "escrow.task_cancelled"
	EscrowTaskRefunded      Kind = "escrow.task_refunded"
	EscrowTaskSettled       Kind = "escrow.task_settled"
	EscrowCounterpartyBound Kind = "escrow.counterparty_rebound"

	PlatformInitialized  Kind = "platform.initialized"
	BiddingTaskPublished Kind = "bidding.task_published"
	BiddingBidPlaced     Kind = "bidding.bid_placed"
	BiddingWinnerChosen  Kind = "bidding.winner_selected"
	BiddingTaskCompleted Kind = "bidding.task_completed"
	BiddingTaskCancelled Kind = "bidding.task_cancelled"

	MarketInitialized    Kind = "market.initialized"
	MarketStatusChanged  Kind = "market.status_changed"
	MarketOrderPlaced    Kind = "market.order_placed"
	MarketOrderCancelled Kind = "market.order_cancelled"
	MarketOrderExpired   Kind = "market.order_expired"
	MarketMatched        Kind = "market.matched"
	MarketFeeCollected   Kind = "market.fee_collected"
	MarketMatchExecuted  Kind = "market.match_executed"
	MarketSweepCompleted Kind = "market.sweep_completed"
	MarketBatchCompleted Kind = "market.batch_completed"
)

// Event is one committed state transition. Seq is dense and increasing per
// Owner stream.
type Event struct {
	ID    string          `json:"id"`
	Owner string          `json:"owner"`
	Seq   uint64          `json:"seq"`
	Kind  Kind            `json:"kind"`
	At    time.Time       `json:"at"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Sink receives events after the unit of work that produced them committed.
// Batches arrive in commit order.
type Sink interface {
	Publish(ctx context.Context, batch []Event) error
}

// Fanout delivers to every sink. A failing sink is logged and does not stop
// delivery to the others; the durable stream in the store stays authoritative.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, batch []Event) error {
	for _, s := range f {
		if err := s.Publish(ctx, batch); err != nil {
			log.Printf("[events][ERROR] sink %T: %v", s, err)
		}
	}
	return nil
}

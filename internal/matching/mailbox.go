package matching

import (
	"context"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// command is one unit of work enqueued on a SymbolActor's mailbox: a
// place or a cancel, each carrying its own response channel so the
// dispatcher goroutine can reply without a second synchronization
// structure.
type command struct {
	place  *PlaceOrderRequest
	cancel *uuid.UUID

	placeReply  chan placeResult
	cancelReply chan cancelResult
}

type placeResult struct {
	report *OrderReport
	err    error
}

type cancelResult struct {
	order *orderbook.Order
	err   error
}

// Mailbox serializes every Place/Cancel for one symbol through a single
// bounded channel, giving the actor its single-writer guarantee:
// orders for the same symbol are totally ordered by arrival, and a
// cancel can never race ahead of a still-pending place. Generalized
// from a fixed worker pool hashed by symbol to one
// dedicated channel+goroutine per symbol actor.
type Mailbox struct {
	actor *SymbolActor
	ch    chan command
	done  chan struct{}
}

// NewMailbox starts the dispatcher goroutine for actor with the given
// high-water mark. Exceeding it rejects new submissions with RateLimited
// rather than blocking the submitter.
func NewMailbox(actor *SymbolActor, highWaterMark int) *Mailbox {
	mb := &Mailbox{actor: actor, ch: make(chan command, highWaterMark), done: make(chan struct{})}
	go mb.run()
	return mb
}

func (mb *Mailbox) run() {
	for cmd := range mb.ch {
		switch {
		case cmd.place != nil:
			report, err := mb.actor.Place(context.Background(), *cmd.place)
			cmd.placeReply <- placeResult{report: report, err: err}
		case cmd.cancel != nil:
			order, err := mb.actor.Cancel(context.Background(), *cmd.cancel)
			cmd.cancelReply <- cancelResult{order: order, err: err}
		}
	}
	close(mb.done)
}

// Place enqueues a place request and waits for the actor to process it.
func (mb *Mailbox) Place(ctx context.Context, req PlaceOrderRequest) (*OrderReport, error) {
	reply := make(chan placeResult, 1)
	cmd := command{place: &req, placeReply: reply}
	select {
	case mb.ch <- cmd:
	default:
		return nil, errors.New(errors.KindRateLimited, "symbol mailbox for %s is full", req.Symbol)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-reply:
		return res.report, res.err
	}
}

// Cancel enqueues a cancel request and waits for the actor to process it.
func (mb *Mailbox) Cancel(ctx context.Context, orderID uuid.UUID) (*orderbook.Order, error) {
	reply := make(chan cancelResult, 1)
	cmd := command{cancel: &orderID, cancelReply: reply}
	select {
	case mb.ch <- cmd:
	default:
		return nil, errors.New(errors.KindRateLimited, "symbol mailbox is full")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-reply:
		return res.order, res.err
	}
}

// Close stops accepting new work and waits for the dispatcher to drain.
func (mb *Mailbox) Close() {
	close(mb.ch)
	<-mb.done
}

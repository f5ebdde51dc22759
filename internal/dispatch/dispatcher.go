package dispatch

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/metrics"
)

// subscriberSource is the subset of C3 the dispatcher reads subscriber
// lists from.
type subscriberSource interface {
	SubscribersGeneral() ([]domain.PushSubscription, error)
	SubscribersSequentialSells() ([]domain.PushSubscription, error)
	ChatSubscribers() ([]string, error)
}

// Dispatcher implements the three notification channels the alert engine
// calls into: chat broadcast, general push fan-out, and sequential-sells
// push fan-out.
type Dispatcher struct {
	chat     *ChatChannel
	push     *PushSender
	registry subscriberSource
	logger   *logrus.Entry
}

// New builds a Dispatcher wired to the chat channel, push hub, and
// subscription registry.
func New(chat *ChatChannel, push *PushSender, registry subscriberSource, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{chat: chat, push: push, registry: registry, logger: logger}
}

// AnnounceChat implements R1: broadcast to the chat channel, no cooldown.
func (d *Dispatcher) AnnounceChat(ctx context.Context, event domain.TransferEvent) error {
	if err := d.chat.BroadcastLargeTransfer(ctx, event); err != nil {
		return err
	}
	metrics.AlertsDispatchedTotal.WithLabelValues("R1", "chat").Inc()
	return nil
}

// PushLargeSingle implements R2: fan out to every general push subscriber.
func (d *Dispatcher) PushLargeSingle(ctx context.Context, event domain.TransferEvent) error {
	subs, err := d.registry.SubscribersGeneral()
	if err != nil {
		return fmt.Errorf("push large single: list subscribers: %w", err)
	}
	d.push.FanOut(ctx, subs, LargeSinglePayload(event))
	metrics.AlertsDispatchedTotal.WithLabelValues("R2", "push").Inc()
	return nil
}

// PushCumulative implements R3's dispatch: fan out to every general push
// subscriber with the cumulative-volume summary.
func (d *Dispatcher) PushCumulative(ctx context.Context, event domain.TransferEvent, cumulativeUSD float64, windowSeconds int64) error {
	subs, err := d.registry.SubscribersGeneral()
	if err != nil {
		return fmt.Errorf("push cumulative: list subscribers: %w", err)
	}
	d.push.FanOut(ctx, subs, CumulativePayload(event, cumulativeUSD, windowSeconds))
	metrics.AlertsDispatchedTotal.WithLabelValues("R3", "push").Inc()
	return nil
}

// PushSequentialSells implements R4's dispatch: fan out only to
// sequential-sells subscribers.
func (d *Dispatcher) PushSequentialSells(ctx context.Context, event domain.TransferEvent, count int64) error {
	subs, err := d.registry.SubscribersSequentialSells()
	if err != nil {
		return fmt.Errorf("push sequential sells: list subscribers: %w", err)
	}
	d.push.FanOut(ctx, subs, SequentialSellsPayload(event, count))
	metrics.AlertsDispatchedTotal.WithLabelValues("R4", "push").Inc()
	return nil
}

// BroadcastPeriodicSummary sends text as a direct message to every
// opted-in chat subscriber — the scheduler's periodic-summary path,
// independent of the per-event chat-announce broadcast.
func (d *Dispatcher) BroadcastPeriodicSummary(ctx context.Context, text string) error {
	userIDs, err := d.registry.ChatSubscribers()
	if err != nil {
		return fmt.Errorf("broadcast periodic summary: list subscribers: %w", err)
	}
	d.chat.DMSubscribers(ctx, userIDs, text)
	return nil
}

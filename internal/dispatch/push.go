package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
)

// PushSender fans a message out to a set of subscribers over the push
// hub. Per-subscriber delivery runs concurrently; a failure or miss for
// one subscriber never stops delivery to the others (fire-and-collect).
type PushSender struct {
	hub    *Hub
	logger *logrus.Entry
}

// NewPushSender builds a PushSender over hub.
func NewPushSender(hub *Hub, logger *logrus.Entry) *PushSender {
	return &PushSender{hub: hub, logger: logger}
}

// FanOut sends payload to every subscriber's push key concurrently and
// returns once all sends have been attempted.
func (p *PushSender) FanOut(ctx context.Context, subs []domain.PushSubscription, payload *PushMessage) {
	body, err := payload.ToJSON()
	if err != nil {
		p.logger.WithError(err).Error("failed to marshal push payload")
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.PushSubscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.WithField("panic", r).WithField("user_id", sub.UserID).Error("push send panicked")
				}
			}()

			if delivered := p.hub.SendToKey(sub.PushKey, body); !delivered {
				p.logger.WithField("user_id", sub.UserID).Debug("push subscriber not connected, skipped")
			}
		}(sub)
	}
	wg.Wait()
}

// LargeSinglePayload builds the push envelope for R2 (large single buy/sell).
func LargeSinglePayload(event domain.TransferEvent) *PushMessage {
	return newPushMessage("large_single", "high", "cash_register", map[string]interface{}{
		"direction":  event.Direction.String(),
		"token_mint": event.TokenMint,
		"wallet":     event.Wallet,
		"amount":     event.Amount(),
		"usd_value":  event.USDValue,
		"signature":  event.Signature,
		"timestamp":  event.Timestamp,
	})
}

// CumulativePayload builds the push envelope for R3 (cumulative volume).
func CumulativePayload(event domain.TransferEvent, cumulativeUSD float64, windowSeconds int64) *PushMessage {
	return newPushMessage("cumulative", "high", "alarm", map[string]interface{}{
		"direction":      event.Direction.String(),
		"token_mint":     event.TokenMint,
		"cumulative_usd": cumulativeUSD,
		"window_minutes": windowSeconds / 60,
		"latest_wallet":  event.Wallet,
		"latest_usd":     event.USDValue,
		"signature":      event.Signature,
	})
}

// SequentialSellsPayload builds the push envelope for R4 (sequential sells).
func SequentialSellsPayload(event domain.TransferEvent, count int64) *PushMessage {
	return newPushMessage("sequential_sells", "high", "siren", map[string]interface{}{
		"wallet":     event.Wallet,
		"token_mint": event.TokenMint,
		"count":      count,
		"latest_usd": event.USDValue,
		"signature":  event.Signature,
	})
}

// Package alertengine implements C5: the rule set (R1-R4) evaluated
// against every TransferEvent produced by the parser.
package alertengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// priceOracle is the subset of C2 the engine depends on.
type priceOracle interface {
	USDValue(ctx context.Context, mint string, rawAmount uint64, decimals int) (*float64, error)
}

// windowStore is the subset of C1 the engine depends on.
type windowStore interface {
	AddAmountToWindow(ctx context.Context, token, direction string, usdAmount float64, ts int64, windowSeconds int64) (float64, error)
	IsInCooldown(ctx context.Context, key string) (bool, error)
	SetCooldown(ctx context.Context, key string, seconds int64) error
	IncrementSequentialSells(ctx context.Context, wallet string) (int64, error)
	ResetSequentialSells(ctx context.Context, wallet string) error
}

// dispatcher is the subset of C6 the engine depends on.
type dispatcher interface {
	AnnounceChat(ctx context.Context, event domain.TransferEvent) error
	PushLargeSingle(ctx context.Context, event domain.TransferEvent) error
	PushCumulative(ctx context.Context, event domain.TransferEvent, cumulativeUSD float64, windowSeconds int64) error
	PushSequentialSells(ctx context.Context, event domain.TransferEvent, count int64) error
}

// Thresholds holds the numeric configuration the rule set compares
// against. All comparisons use >=, never >.
type Thresholds struct {
	ChatThresholdUSD       float64
	SingleThresholdUSD     float64
	CumulativeThresholdUSD float64
	WindowSeconds          int64
	FiveSellsThresholdUSD  float64
	SequentialSellsEnabled bool
}

// Engine evaluates R1-R4 for each event, in order, dispatching
// notifications as rules fire. A notification-dispatch failure for one
// rule never aborts the rules that follow it; a window-store/backend
// failure does abort the remaining rules for that event, per the
// TransientBackend propagation policy (the event is dropped, logged at
// event granularity, and later events are unaffected).
type Engine struct {
	oracle     priceOracle
	store      windowStore
	dispatcher dispatcher
	thresholds Thresholds
	logger     *logrus.Entry
}

// New builds an Engine wired to its C1/C2/C6 dependencies.
func New(oracle priceOracle, store windowStore, dispatcher dispatcher, thresholds Thresholds, logger *logrus.Entry) *Engine {
	return &Engine{oracle: oracle, store: store, dispatcher: dispatcher, thresholds: thresholds, logger: logger}
}

// Evaluate resolves the event's USD value and runs R1 through R4 against
// it, in that fixed order.
func (e *Engine) Evaluate(ctx context.Context, event domain.TransferEvent) error {
	usd, err := e.oracle.USDValue(ctx, event.TokenMint, event.RawAmount, event.Decimals)
	if err != nil {
		return fmt.Errorf("resolve usd value: %w", err)
	}
	if usd != nil {
		event = event.WithUSDValue(*usd)
	}

	logger := e.logger.WithField("signature", event.Signature).
		WithField("wallet", event.Wallet).
		WithField("direction", event.Direction.String())

	rules := []func(context.Context, domain.TransferEvent, *logrus.Entry) error{
		e.ruleChatAnnounceLarge,
		e.ruleLargeSinglePush,
		e.rulePushCumulative,
		e.ruleSequentialSells,
	}
	for _, rule := range rules {
		if err := rule(ctx, event, logger); err != nil {
			if errors.Is(err, pipelineerr.ErrTransientBackend) {
				logger.WithError(err).Error("aborting event: transient backend error")
				return err
			}
			logger.WithError(err).Warn("rule returned unexpected error, continuing")
		}
	}

	return nil
}

// ruleChatAnnounceLarge is R1: any single transfer at or above the chat
// threshold is announced to the chat channel, with no cooldown. A
// dispatch-send failure is logged and swallowed, never aborting R2-R4.
func (e *Engine) ruleChatAnnounceLarge(ctx context.Context, event domain.TransferEvent, logger *logrus.Entry) error {
	if !event.HasUSDValue() || *event.USDValue < e.thresholds.ChatThresholdUSD {
		return nil
	}
	if err := e.dispatcher.AnnounceChat(ctx, event); err != nil {
		logger.WithError(err).Warn("R1 chat-announce-large dispatch failed")
	}
	return nil
}

// ruleLargeSinglePush is R2: any single transfer at or above the general
// push threshold fans out to general push subscribers, with no cooldown.
func (e *Engine) ruleLargeSinglePush(ctx context.Context, event domain.TransferEvent, logger *logrus.Entry) error {
	if !event.HasUSDValue() || *event.USDValue < e.thresholds.SingleThresholdUSD {
		return nil
	}
	if err := e.dispatcher.PushLargeSingle(ctx, event); err != nil {
		logger.WithError(err).Warn("R2 push-large-single dispatch failed")
	}
	return nil
}

// rulePushCumulative is R3: the window update always happens, even when
// the cooldown suppresses the notification — the window must always
// reflect actual volume. A store/backend failure here is returned so
// Evaluate can abort the remaining rules for this event; a
// dispatch-send failure is logged and swallowed instead.
func (e *Engine) rulePushCumulative(ctx context.Context, event domain.TransferEvent, logger *logrus.Entry) error {
	if !event.HasUSDValue() {
		return nil
	}

	cumulative, err := e.store.AddAmountToWindow(ctx, event.TokenMint, event.Direction.String(), *event.USDValue, event.Timestamp, e.thresholds.WindowSeconds)
	if err != nil {
		logger.WithError(err).Error("R3 push-cumulative window update failed")
		return err
	}
	if cumulative < e.thresholds.CumulativeThresholdUSD {
		return nil
	}

	cooldownKey := fmt.Sprintf("%s:%s:cumulative", event.TokenMint, event.Direction.String())
	inCooldown, err := e.store.IsInCooldown(ctx, cooldownKey)
	if err != nil {
		logger.WithError(err).Error("R3 push-cumulative cooldown check failed")
		return err
	}
	if inCooldown {
		logger.WithField("cumulative_usd", cumulative).Info("R3 push-cumulative threshold reached but cooldown active, skipping")
		return nil
	}

	if err := e.dispatcher.PushCumulative(ctx, event, cumulative, e.thresholds.WindowSeconds); err != nil {
		logger.WithError(err).Warn("R3 push-cumulative dispatch failed")
	}
	if err := e.store.SetCooldown(ctx, cooldownKey, e.thresholds.WindowSeconds); err != nil {
		logger.WithError(err).Error("R3 push-cumulative cooldown set failed")
		return err
	}
	return nil
}

// ruleSequentialSells is R4: tracks a run of qualifying sells per wallet,
// reset on any buy, firing once the run reaches five. A store/backend
// failure here is returned so Evaluate can log it at event granularity;
// since R4 runs last this only affects whether the failure is
// classified as a transient-backend abort.
func (e *Engine) ruleSequentialSells(ctx context.Context, event domain.TransferEvent, logger *logrus.Entry) error {
	if !e.thresholds.SequentialSellsEnabled {
		return nil
	}

	if event.Direction == domain.DirectionBuy {
		if err := e.store.ResetSequentialSells(ctx, event.Wallet); err != nil {
			logger.WithError(err).Error("R4 sequential-sells reset on buy failed")
			return err
		}
		return nil
	}

	if event.Direction != domain.DirectionSell || !event.HasUSDValue() || *event.USDValue < e.thresholds.FiveSellsThresholdUSD {
		return nil
	}

	count, err := e.store.IncrementSequentialSells(ctx, event.Wallet)
	if err != nil {
		logger.WithError(err).Error("R4 sequential-sells increment failed")
		return err
	}
	if count < 5 {
		return nil
	}

	if err := e.dispatcher.PushSequentialSells(ctx, event, count); err != nil {
		logger.WithError(err).Warn("R4 sequential-sells dispatch failed")
	}
	if err := e.store.ResetSequentialSells(ctx, event.Wallet); err != nil {
		logger.WithError(err).Error("R4 sequential-sells reset after fire failed")
		return err
	}
	return nil
}

package dispatch

import (
	"context"
	"fmt"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// chatSender is the subset of the telegram bot client the chat channel
// depends on, narrowed so tests can substitute a fake.
type chatSender interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (interface{}, error)
}

// botSenderAdapter adapts *tgbot.Bot's richer SendMessage signature to
// the chatSender interface above.
type botSenderAdapter struct {
	bot *tgbot.Bot
}

func (a *botSenderAdapter) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (interface{}, error) {
	return a.bot.SendMessage(ctx, params)
}

// ChatChannel dispatches announcements to one fixed broadcast channel and,
// independently, direct messages to each opted-in chat subscriber. These
// are genuinely distinct delivery paths, not alternatives of each other.
type ChatChannel struct {
	sender    chatSender
	channelID string
	logger    *logrus.Entry
}

// NewChatChannel builds a ChatChannel from a configured bot token and
// broadcast channel id.
func NewChatChannel(botToken, channelID string, logger *logrus.Entry) (*ChatChannel, error) {
	b, err := tgbot.New(botToken)
	if err != nil {
		return nil, fmt.Errorf("create chat bot client: %w", err)
	}
	return &ChatChannel{sender: &botSenderAdapter{bot: b}, channelID: channelID, logger: logger}, nil
}

// BroadcastLargeTransfer sends an R1 chat-announce-large message to the
// configured broadcast channel.
func (c *ChatChannel) BroadcastLargeTransfer(ctx context.Context, event domain.TransferEvent) error {
	text := formatLargeTransferMessage(event)
	_, err := c.sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: c.channelID, Text: text})
	if err != nil {
		return fmt.Errorf("broadcast large transfer: %w: %w", pipelineerr.ErrUpstreamPush, err)
	}
	return nil
}

// DMSubscribers sends text as a direct message to each opted-in chat
// subscriber concurrently, fire-and-collect — a failed DM to one
// subscriber never blocks delivery to the rest.
func (c *ChatChannel) DMSubscribers(ctx context.Context, userIDs []string, text string) {
	var wg sync.WaitGroup
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithField("panic", r).WithField("user_id", userID).Error("chat DM panicked")
				}
			}()
			if _, err := c.sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: userID, Text: text}); err != nil {
				c.logger.WithError(err).WithField("user_id", userID).Warn("chat DM failed")
			}
		}(userID)
	}
	wg.Wait()
}

func formatLargeTransferMessage(event domain.TransferEvent) string {
	symbol := "\U0001F7E2" // green circle, buy
	if event.Direction == domain.DirectionSell {
		symbol = "\U0001F534" // red circle, sell
	}
	usd := "unknown"
	if event.HasUSDValue() {
		usd = fmt.Sprintf("$%.2f", *event.USDValue)
	}
	return fmt.Sprintf("%s %s %s\nWallet: %s\nAmount: %.4f\nUSD: %s\nTx: %s",
		symbol, event.Direction.String(), event.TokenMint, truncateWallet(event.Wallet), event.Amount(), usd, event.Signature)
}

func truncateWallet(wallet string) string {
	if len(wallet) <= 10 {
		return wallet
	}
	return wallet[:4] + "..." + wallet[len(wallet)-4:]
}

package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cryptoKingdom88/chainwatch/internal/domain"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l.WithField("test", true)
}

type fakeChatSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChatSender) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params.ChatID.(string))
	return nil, nil
}

func (f *fakeChatSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRegistry struct {
	general         []domain.PushSubscription
	sequentialSells []domain.PushSubscription
	chatSubs        []string
}

func (f *fakeRegistry) SubscribersGeneral() ([]domain.PushSubscription, error) {
	return f.general, nil
}

func (f *fakeRegistry) SubscribersSequentialSells() ([]domain.PushSubscription, error) {
	return f.sequentialSells, nil
}

func (f *fakeRegistry) ChatSubscribers() ([]string, error) {
	return f.chatSubs, nil
}

func TestPushSender_FanOutDoesNotAbortOnMiss(t *testing.T) {
	hub := NewHub(testLogger())
	sender := NewPushSender(hub, testLogger())

	subs := []domain.PushSubscription{
		{UserID: "u1", PushKey: "key1"},
		{UserID: "u2", PushKey: "key2"},
	}

	done := make(chan struct{})
	go func() {
		sender.FanOut(context.Background(), subs, LargeSinglePayload(domain.TransferEvent{}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FanOut should complete even when no subscribers are connected")
	}
}

func TestDispatcher_AnnounceChat(t *testing.T) {
	fakeSender := &fakeChatSender{}
	chat := &ChatChannel{sender: fakeSender, channelID: "channel1", logger: testLogger()}
	registry := &fakeRegistry{}
	hub := NewHub(testLogger())
	push := NewPushSender(hub, testLogger())

	d := New(chat, push, registry, testLogger())

	event := domain.TransferEvent{TokenMint: "M", Wallet: "W1", Direction: domain.DirectionBuy, Signature: "s1"}
	require.NoError(t, d.AnnounceChat(context.Background(), event))
	require.Equal(t, 1, fakeSender.count())
}

func TestDispatcher_PushLargeSingle_UsesGeneralSubscribers(t *testing.T) {
	fakeSender := &fakeChatSender{}
	chat := &ChatChannel{sender: fakeSender, channelID: "channel1", logger: testLogger()}
	registry := &fakeRegistry{general: []domain.PushSubscription{{UserID: "u1", PushKey: "k1"}}}
	hub := NewHub(testLogger())
	push := NewPushSender(hub, testLogger())

	d := New(chat, push, registry, testLogger())

	event := domain.TransferEvent{TokenMint: "M", Wallet: "W1", Direction: domain.DirectionSell, Signature: "s1"}
	require.NoError(t, d.PushLargeSingle(context.Background(), event))
}

func TestDispatcher_PushSequentialSells_UsesSequentialSubscribers(t *testing.T) {
	fakeSender := &fakeChatSender{}
	chat := &ChatChannel{sender: fakeSender, channelID: "channel1", logger: testLogger()}
	registry := &fakeRegistry{sequentialSells: []domain.PushSubscription{{UserID: "u2", PushKey: "k2"}}}
	hub := NewHub(testLogger())
	push := NewPushSender(hub, testLogger())

	d := New(chat, push, registry, testLogger())

	event := domain.TransferEvent{TokenMint: "M", Wallet: "W9", Direction: domain.DirectionSell, Signature: "s2"}
	require.NoError(t, d.PushSequentialSells(context.Background(), event, 5))
}

func TestDispatcher_BroadcastPeriodicSummary_DMsChatSubscribers(t *testing.T) {
	fakeSender := &fakeChatSender{}
	chat := &ChatChannel{sender: fakeSender, channelID: "channel1", logger: testLogger()}
	registry := &fakeRegistry{chatSubs: []string{"u1", "u2", "u3"}}
	hub := NewHub(testLogger())
	push := NewPushSender(hub, testLogger())

	d := New(chat, push, registry, testLogger())

	require.NoError(t, d.BroadcastPeriodicSummary(context.Background(), "weekly summary"))
	require.Equal(t, 3, fakeSender.count())
}

func TestHub_SendToKey_MissWhenNotConnected(t *testing.T) {
	hub := NewHub(testLogger())
	require.False(t, hub.SendToKey("nope", []byte("hi")))
}

func TestHub_RegisterAndSendToKey(t *testing.T) {
	hub := NewHub(testLogger())
	stop := make(chan struct{})
	defer close(stop)
	go hub.Run(stop)

	client := &PushClient{PushKey: "k1", Send: make(chan []byte, 1)}
	hub.Register(client)
	time.Sleep(50 * time.Millisecond)

	require.True(t, hub.SendToKey("k1", []byte("hello")))
	select {
	case msg := <-client.Send:
		require.Equal(t, []byte("hello"), msg)
	case <-time.After(time.Second):
		t.Fatal("expected message on client.Send")
	}

	require.Equal(t, 1, hub.ConnectedCount())
}

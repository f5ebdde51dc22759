// Package dispatch implements C6: the notification dispatcher, fanning
// out chat and push notifications to subscribers over three channels —
// chat broadcast, general push, and sequential-sells push.
package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// PushMessage is the JSON envelope sent to a connected push client.
type PushMessage struct {
	Type      string      `json:"type"`
	Priority  string      `json:"priority"`
	Sound     string      `json:"sound"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// ToJSON marshals the message.
func (m *PushMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PushClient is one subscriber's live connection, keyed by their
// registered push key.
type PushClient struct {
	PushKey string
	Conn    *websocket.Conn
	Send    chan []byte
}

// Hub maintains the set of connected push clients, keyed by push key, and
// routes per-subscriber sends rather than a blanket broadcast — general
// push and sequential-sells push each address a distinct subscriber set.
type Hub struct {
	clients    map[string]*PushClient
	clientsMu  sync.RWMutex
	register   chan *PushClient
	unregister chan *PushClient
	logger     *logrus.Entry
}

// NewHub creates an empty push hub.
func NewHub(logger *logrus.Entry) *Hub {
	return &Hub{
		clients:    make(map[string]*PushClient),
		register:   make(chan *PushClient),
		unregister: make(chan *PushClient),
		logger:     logger,
	}
}

// Run drives the hub's register/unregister loop until stop is closed;
// callers run this in its own goroutine, the way a long-lived hub manager
// runs its main loop.
func (h *Hub) Run(stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithField("panic", r).Error("push hub panicked, restarting")
			go h.Run(stop)
		}
	}()

	for {
		select {
		case <-stop:
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register connects a push client under its push key, replacing any
// existing connection for that key.
func (h *Hub) Register(client *PushClient) {
	h.register <- client
}

// Unregister disconnects a push client.
func (h *Hub) Unregister(client *PushClient) {
	h.unregister <- client
}

func (h *Hub) addClient(client *PushClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if existing, ok := h.clients[client.PushKey]; ok {
		close(existing.Send)
	}
	h.clients[client.PushKey] = client
	h.logger.WithField("push_key", client.PushKey).Debug("push client registered")
}

func (h *Hub) removeClient(client *PushClient) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if current, ok := h.clients[client.PushKey]; ok && current == client {
		delete(h.clients, client.PushKey)
		close(client.Send)
	}
}

// SendToKey delivers message to the client currently registered under
// pushKey, if any. It reports whether a live client was found — an
// absent client is not an error, just a best-effort miss.
func (h *Hub) SendToKey(pushKey string, message []byte) bool {
	h.clientsMu.RLock()
	client, ok := h.clients[pushKey]
	h.clientsMu.RUnlock()
	if !ok {
		return false
	}

	select {
	case client.Send <- message:
		return true
	default:
		h.logger.WithField("push_key", pushKey).Warn("push client send buffer full, dropping")
		return false
	}
}

// ConnectedCount reports the number of currently connected push clients,
// for the health/stats surface.
func (h *Hub) ConnectedCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades r to a websocket connection and registers it under
// pushKey, replacing any prior connection for that key. It blocks for the
// life of the connection, draining the client's outbound buffer, and
// unregisters on return — callers invoke this directly from an HTTP
// handler, one goroutine per connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, pushKey string) error {
	if pushKey == "" {
		return errors.New("push key is required")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &PushClient{
		PushKey: pushKey,
		Conn:    conn,
		Send:    make(chan []byte, 16),
	}
	h.Register(client)
	defer h.Unregister(client)

	go writePump(client, h.logger)

	// The read loop's only purpose is to detect the client going away;
	// this transport carries no inbound messages.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

// writePump drains a client's Send channel to its websocket connection
// until the channel closes or the connection fails.
func writePump(client *PushClient, logger *logrus.Entry) {
	defer client.Conn.Close()
	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.WithError(err).WithField("push_key", client.PushKey).Warn("push client write failed")
			return
		}
	}
	_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// newPushMessage builds a timestamped envelope for msgType/priority/sound/data.
func newPushMessage(msgType, priority, sound string, data interface{}) *PushMessage {
	return &PushMessage{
		Type:      msgType,
		Priority:  priority,
		Sound:     sound,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

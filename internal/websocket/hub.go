package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rzzdr/option-valuation/pkg/models"
	apperrors "github.com/rzzdr/option-valuation/pkg/utils/errors"
	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

// AllTickers subscribes a client to every valuation
const AllTickers = "*"

// Hub maintains the set of active clients and fans valuations out to the
// clients subscribed to their ticker
type Hub struct {
	clients       map[*Client]bool // owned by Run
	broadcast     chan envelope
	register      chan *Client
	unregister    chan *Client
	subscriptions map[string]map[*Client]bool // ticker -> clients
	onClients     func(int)
	quit          chan struct{}
	log           *logger.Logger
	mu            sync.RWMutex
}

type envelope struct {
	ticker string
	data   []byte
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	done          chan struct{} // closed by the hub when the client is dropped
	id            string
	subscriptions map[string]bool
	mu            sync.Mutex
}

// Message is the outbound frame
type Message struct {
	Type   string      `json:"type"`
	Ticker string      `json:"ticker,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
	ID     string      `json:"id,omitempty"`
}

// SubscriptionMessage is the inbound frame
type SubscriptionMessage struct {
	Type    string   `json:"type"` // subscribe, unsubscribe, ping
	Tickers []string `json:"tickers"`
	ID      string   `json:"id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer in front of the API
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 512
	sendBuffer     = 64
)

// HubOption configures a Hub
type HubOption func(*Hub)

// WithClientGauge reports the connected client count after every change
func WithClientGauge(fn func(int)) HubOption {
	return func(h *Hub) { h.onClients = fn }
}

// NewHub creates a new valuation hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:       make(map[*Client]bool),
		broadcast:     make(chan envelope, 256),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscriptions: make(map[string]map[*Client]bool),
		quit:          make(chan struct{}),
		log:           logger.GetLogger("websocket.hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx is done
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting valuation hub")
	defer close(h.quit)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.log.Info("Valuation hub shutting down")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.reportClients()
			h.log.Debugf("Client %s registered", client.id)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Debugf("Client %s unregistered", client.id)
			}

		case env := <-h.broadcast:
			for _, client := range h.subscribers(env.ticker) {
				if !h.clients[client] {
					continue
				}
				select {
				case client.send <- env.data:
				default:
					h.log.Warnf("Client %s is too slow, disconnecting", client.id)
					h.drop(client)
				}
			}
		}
	}
}

// Name identifies the hub as a valuation sink
func (h *Hub) Name() string {
	return "websocket"
}

// PublishValuation queues a valuation for its ticker's subscribers
func (h *Hub) PublishValuation(ctx context.Context, v models.Valuation) error {
	data, err := json.Marshal(Message{Type: "valuation", Ticker: v.Contract.Ticker, Data: v})
	if err != nil {
		return apperrors.Wrap(apperrors.WithType(err, apperrors.ErrorTypeInternal), "failed to marshal valuation")
	}

	select {
	case h.broadcast <- envelope{ticker: v.Contract.Ticker, data: data}:
		return nil
	case <-h.quit:
		return apperrors.Internal("valuation hub is stopped")
	case <-ctx.Done():
		return apperrors.Wrap(apperrors.WithType(ctx.Err(), apperrors.ErrorTypeTimeout), "websocket broadcast canceled")
	}
}

// HandleWebSocket upgrades the connection and starts the client pumps
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
		id:            uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.quit:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// drop must only be called from Run
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.done)
	h.removeClientSubscriptions(client)
	h.reportClients()
}

func (h *Hub) reportClients() {
	if h.onClients != nil {
		h.onClients(len(h.clients))
	}
}

func (h *Hub) subscribers(ticker string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]bool)
	var out []*Client
	for _, key := range []string{ticker, AllTickers} {
		for client := range h.subscriptions[key] {
			if !seen[client] {
				seen[client] = true
				out = append(out, client)
			}
		}
	}
	return out
}

func (h *Hub) removeClientSubscriptions(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()
	for ticker := range client.subscriptions {
		h.unsubscribeLocked(ticker, client)
	}
}

func (h *Hub) unsubscribeLocked(ticker string, client *Client) {
	if clients, exists := h.subscriptions[ticker]; exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.subscriptions, ticker)
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warnf("WebSocket error: %v", err)
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg SubscriptionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(Message{Type: "error", Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg)
	case "unsubscribe":
		c.unsubscribe(msg)
	case "ping":
		c.sendMessage(Message{Type: "pong", ID: msg.ID})
	default:
		c.sendMessage(Message{Type: "error", Error: "unknown message type", ID: msg.ID})
	}
}

func (c *Client) subscribe(msg SubscriptionMessage) {
	tickers := normalizeTickers(msg.Tickers)

	c.hub.mu.Lock()
	c.mu.Lock()
	for _, ticker := range tickers {
		c.subscriptions[ticker] = true
		if c.hub.subscriptions[ticker] == nil {
			c.hub.subscriptions[ticker] = make(map[*Client]bool)
		}
		c.hub.subscriptions[ticker][c] = true
	}
	c.mu.Unlock()
	c.hub.mu.Unlock()

	c.sendMessage(Message{Type: "subscribed", Data: tickers, ID: msg.ID})
}

func (c *Client) unsubscribe(msg SubscriptionMessage) {
	tickers := normalizeTickers(msg.Tickers)

	c.hub.mu.Lock()
	c.mu.Lock()
	for _, ticker := range tickers {
		delete(c.subscriptions, ticker)
		c.hub.unsubscribeLocked(ticker, c)
	}
	c.mu.Unlock()
	c.hub.mu.Unlock()

	c.sendMessage(Message{Type: "unsubscribed", Data: tickers, ID: msg.ID})
}

// sendMessage replies from the read pump; replies are dropped when the send
// buffer is full
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorf("Failed to marshal message: %v", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
	}
}

func normalizeTickers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = append(out, AllTickers)
	}
	return out
}

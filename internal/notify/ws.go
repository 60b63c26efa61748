package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
	commandTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	groups []string
	send   chan []byte
	closed bool // guarded by hub.mu
}

// ServeWS upgrades the request and subscribes the connection.
//
// Query parameters: listing (repeatable) or listings (comma separated) select auction
// groups. The caller is identified by token when an Authenticator is set, otherwise by
// user. An identified caller also joins its personal group.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	q := r.URL.Query()
	userID, err := h.identify(q.Get("token"), q.Get("user"))
	if err != nil {
		slog.Warn("Rejected websocket session", slog.Any("error", err))
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}
	groups := subscriptionGroups(q["listing"], q.Get("listings"), userID)
	if len(groups) == 0 {
		http.Error(w, "no listing or user to subscribe to", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		groups: groups,
		send:   make(chan []byte, h.clientBuffer),
	}
	h.register(c)
	slog.Info("Client subscribed", slog.String("user", userID), slog.Any("groups", groups))

	if userID != "" && h.onSubscribe != nil {
		go h.onSubscribe(context.Background(), userID)
	}

	go c.writePump()
	go c.readPump()
}

// identify returns "" for anonymous watchers.
func (h *Hub) identify(token, user string) (string, error) {
	if h.auth == nil {
		return strings.TrimSpace(user), nil
	}
	if token == "" {
		return "", nil
	}
	return h.auth.Verify(token)
}

func subscriptionGroups(listings []string, csv, userID string) []string {
	if csv != "" {
		listings = append(listings, strings.Split(csv, ",")...)
	}
	seen := make(map[string]bool)
	var groups []string
	add := func(g string) {
		if !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}
	for _, id := range listings {
		if id = strings.TrimSpace(id); id != "" {
			add(AuctionGroup(id))
		}
	}
	if userID != "" {
		add(UserGroup(userID))
	}
	return groups
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Client read failed", slog.String("user", c.userID), slog.Any("error", err))
			}
			return
		}
		c.handleCommand(raw)
	}
}

func (c *client) handleCommand(raw []byte) {
	if c.hub.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	data, err := json.Marshal(c.hub.handler(ctx, c.userID, raw))
	if err != nil {
		slog.Error("Failed to encode command result", slog.Any("error", err))
		return
	}
	msg := Message{Event: NameCommandResult, Data: data}
	if c.userID != "" {
		msg.Group = UserGroup(c.userID)
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.hub.reply(c, frame) {
		slog.Warn("Command result dropped", slog.String("user", c.userID))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// Handler serves the websocket endpoint at /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	return mux
}

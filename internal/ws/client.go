package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lkj1313/LiveBoard/internal/auth"
	"github.com/lkj1313/LiveBoard/internal/protocol"
	"github.com/lkj1313/LiveBoard/internal/ratelimit"
	"github.com/lkj1313/LiveBoard/internal/router"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer        = 512
	maxRateViolations = 1000
	rateWarningPeriod = 100
)

type Settings struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	MessagesPerSecond float64
	MessageBurst      int
	// Refuse the upgrade without a valid token
	RequireAuth bool
	// Allowed Origin values; empty or "*" allows any
	AllowedOrigins []string
}

func DefaultSettings() Settings {
	return Settings{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageSize:    1024 * 1024,
		MessagesPerSecond: 100,
		MessageBurst:      200,
	}
}

// Handler upgrades HTTP requests to socket connections and wires each one
// to the router and hub.
type Handler struct {
	hub      *Hub
	router   *router.Router
	tokens   *auth.JWTManager
	settings Settings
	upgrader websocket.Upgrader
}

// NewHandler builds the /ws endpoint. tokens may be nil, in which case every
// connection is anonymous.
func NewHandler(hub *Hub, rt *router.Router, tokens *auth.JWTManager, settings Settings) *Handler {
	h := &Handler{
		hub:      hub,
		router:   rt,
		tokens:   tokens,
		settings: settings,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  settings.ReadBufferSize,
		WriteBufferSize: settings.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.settings.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.settings.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var claims *auth.Claims
	if h.tokens != nil {
		if token := auth.TokenFromRequest(r); token != "" {
			c, err := h.tokens.Validate(token)
			if err != nil {
				log.Printf("[WS] rejected token from %s: %v", r.RemoteAddr, err)
			} else {
				claims = c
			}
		}
	}
	if claims == nil && h.settings.RequireAuth {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[WS] upgrade error:", err)
		return
	}

	session := router.NewSession(uuid.NewString())
	if claims != nil {
		session.Authenticate(claims.UserID, claims.Nickname)
	}

	client := &Client{
		hub:         h.hub,
		router:      h.router,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		session:     session,
		id:          session.ConnectionID,
		rateLimiter: ratelimit.NewLimiter(h.settings.MessagesPerSecond, h.settings.MessageBurst),
		maxMessage:  h.settings.MaxMessageSize,
	}

	if !h.hub.Register(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Client is one socket connection.
type Client struct {
	hub         *Hub
	router      *router.Router
	conn        *websocket.Conn
	send        chan []byte
	session     *router.Session
	id          string
	rateLimiter *ratelimit.Limiter
	maxMessage  int64

	// Owned by the hub goroutine
	room string
}

func (c *Client) readPump() {
	ctx, cancel := context.WithCancel(context.Background())

	defer func() {
		cancel()
		c.router.Disconnect(c.session, c.publish)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.maxMessage > 0 {
		c.conn.SetReadLimit(c.maxMessage)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	violations := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] read error from %s: %v", c.id, err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			violations++
			if violations%rateWarningPeriod == 1 {
				log.Printf("[WS] rate limit exceeded for %s in room %s (warning #%d)",
					c.id, c.session.RoomID(), violations)
			}
			if violations > maxRateViolations {
				log.Printf("[WS] disconnecting %s for excessive rate limit violations", c.id)
				return
			}
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			log.Printf("[WS] invalid frame from %s: %v", c.id, err)
			continue
		}

		if !c.router.Process(ctx, c.session, env, c.publish) {
			return
		}
	}
}

func (c *Client) publish(plan router.Plan) bool {
	return c.hub.Submit(c, plan)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("[WS] write error to %s: %v", c.id, err)
				}
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

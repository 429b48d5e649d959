package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 1 << 20
)

// Server exposes a Broker over websockets. Each connection authenticates
// once with a bearer token and may then open any number of
// subscriptions it is authorized for.
type Server struct {
	broker   *Broker
	tokens   *Tokens
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket endpoint for broker. allowedOrigins
// lists browser origins permitted to connect; non-browser clients send
// no Origin and are always accepted.
func NewServer(broker *Broker, tokens *Tokens, allowedOrigins []string, log zerolog.Logger) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Server{
		broker: broker,
		tokens: tokens,
		log:    log.With().Str("component", "realtime").Logger(),
		upgrader: websocket.Upgrader{
			Subprotocols:      []string{Subprotocol},
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
	}
}

// ServeHTTP upgrades the request and serves frames until the peer leaves.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	employeeID, err := s.tokens.Verify(BearerToken(r))
	if err != nil {
		authFailures.WithLabelValues("token").Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	activeConnections.Inc()
	defer activeConnections.Dec()

	c := &serverConn{
		server:     s,
		conn:       conn,
		employeeID: employeeID,
		subs:       make(map[string]live.Subscription),
		log:        s.log.With().Str("employee", employeeID).Logger(),
	}
	c.serve(r.Context())
}

type serverConn struct {
	server     *Server
	conn       *websocket.Conn
	employeeID string
	log        zerolog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]live.Subscription
}

func (c *serverConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.closeAll()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop(ctx)

	c.log.Debug().Msg("realtime connection open")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("realtime connection lost")
			}
			return
		}

		var f Frame
		if err := Unmarshal(data, &f); err != nil {
			c.write(Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}

		switch f.Type {
		case FrameSubscribe:
			c.subscribe(ctx, f)
		case FrameUnsubscribe:
			c.unsubscribe(f.SubID)
		default:
			c.write(Frame{Type: FrameError, SubID: f.SubID, Error: "unknown frame type " + f.Type})
		}
	}
}

func (c *serverConn) subscribe(ctx context.Context, f Frame) {
	filter := live.Filter{Table: f.Table, SubjectID: f.Subject}

	if f.SubID == "" {
		c.write(Frame{Type: FrameError, Error: "subscription id required"})
		return
	}
	if err := Authorize(c.employeeID, filter); err != nil {
		authFailures.WithLabelValues("subscribe").Inc()
		c.write(Frame{Type: FrameError, SubID: f.SubID, Error: err.Error()})
		return
	}

	c.mu.Lock()
	if _, exists := c.subs[f.SubID]; exists {
		c.mu.Unlock()
		c.write(Frame{Type: FrameError, SubID: f.SubID, Error: "duplicate subscription id"})
		return
	}
	c.mu.Unlock()

	subID := f.SubID
	sub, err := c.server.broker.Subscribe(ctx, filter, func(ev Event) {
		record, err := Marshal(ev.Record)
		if err != nil {
			c.log.Error().Err(err).Str("table", ev.Table).Msg("encoding change-feed record")
			return
		}
		c.write(Frame{
			Type:    FrameEvent,
			SubID:   subID,
			Table:   ev.Table,
			Subject: ev.SubjectID,
			Record:  record,
		})
	})
	if err != nil {
		c.write(Frame{Type: FrameError, SubID: subID, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.subs[subID] = sub
	c.mu.Unlock()

	c.write(Frame{Type: FrameAck, SubID: subID, Table: filter.Table, Subject: filter.SubjectID})
}

func (c *serverConn) unsubscribe(subID string) {
	c.mu.Lock()
	sub, ok := c.subs[subID]
	delete(c.subs, subID)
	c.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

func (c *serverConn) closeAll() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]live.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	c.log.Debug().Int("subscriptions", len(subs)).Msg("realtime connection closed")
}

func (c *serverConn) write(f Frame) {
	data, err := Marshal(f)
	if err != nil {
		c.log.Error().Err(err).Msg("encoding frame")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.log.Debug().Err(err).Msg("writing frame")
	}
}

func (c *serverConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

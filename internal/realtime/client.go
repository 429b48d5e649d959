package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
)

// ErrClosed is returned by Subscribe once the connection is gone.
var ErrClosed = errors.New("realtime connection closed")

// DefaultDialer speaks the CBOR subprotocol with compression enabled.
var DefaultDialer = &websocket.Dialer{
	Proxy:             websocket.DefaultDialer.Proxy,
	HandshakeTimeout:  websocket.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{Subprotocol},
}

// Client is a websocket connection to a Server. It implements Source.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]func(Event)
	pending map[string]chan error
	closed  bool
	done    chan struct{}
}

// Dial connects to the realtime endpoint at rawURL ("ws://host/realtime")
// authenticating with token.
func Dial(ctx context.Context, rawURL, token string, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, res, err := DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if res != nil && res.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dialing %s: %w", u.Redacted(), ErrUnauthorized)
		}
		return nil, fmt.Errorf("dialing %s: %w", u.Redacted(), err)
	}
	res.Body.Close()

	c := &Client{
		conn:    conn,
		log:     log.With().Str("component", "realtime-client").Logger(),
		subs:    make(map[string]func(Event)),
		pending: make(map[string]chan error),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe opens a server-side subscription for f and waits for the
// server to accept it.
func (c *Client) Subscribe(ctx context.Context, f live.Filter, deliver func(Event)) (live.Subscription, error) {
	subID := ulid.Make().String()
	acked := make(chan error, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[subID] = deliver
	c.pending[subID] = acked
	c.mu.Unlock()

	err := c.write(Frame{Type: FrameSubscribe, SubID: subID, Table: f.Table, Subject: f.SubjectID})
	if err == nil {
		select {
		case err = <-acked:
		case <-ctx.Done():
			err = ctx.Err()
		case <-c.done:
			err = ErrClosed
		}
	}

	c.mu.Lock()
	delete(c.pending, subID)
	if err != nil {
		delete(c.subs, subID)
	}
	c.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("subscribing to %s/%s: %w", f.Table, f.SubjectID, err)
	}
	return &clientSub{client: c, id: subID}, nil
}

// Close closes the connection. Open subscriptions stop receiving events.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type clientSub struct {
	client *Client
	id     string
	once   sync.Once
}

func (s *clientSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		delete(c.subs, s.id)
		closed := c.closed
		c.mu.Unlock()

		if !closed {
			err = c.write(Frame{Type: FrameUnsubscribe, SubID: s.id})
		}
	})
	return err
}

func (c *Client) write(f Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		open := len(c.subs)
		c.subs = make(map[string]func(Event))
		c.mu.Unlock()

		close(c.done)
		if open > 0 {
			c.log.Warn().Int("subscriptions", open).Msg("change feed connection lost")
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("malformed frame from server")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	c.mu.Lock()
	deliver := c.subs[f.SubID]
	acked := c.pending[f.SubID]
	c.mu.Unlock()

	switch f.Type {
	case FrameAck:
		if acked != nil {
			select {
			case acked <- nil:
			default:
			}
		}
	case FrameError:
		err := errors.New(f.Error)
		if rest, ok := strings.CutPrefix(f.Error, ErrUnauthorized.Error()+": "); ok {
			err = fmt.Errorf("%w: %s", ErrUnauthorized, rest)
		}
		if acked != nil {
			select {
			case acked <- err:
			default:
			}
			return
		}
		c.log.Warn().Str("sub", f.SubID).Str("error", f.Error).Msg("server error")
	case FrameEvent:
		if deliver == nil {
			return
		}
		deliver(Event{Table: f.Table, SubjectID: f.Subject, Record: f.Record})
	}
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meur/mistbook/internal/realtime"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 90 * time.Second
	dialTimeout  = 15 * time.Second
	topicBuffer  = 16
	maxReconnect = 30 * time.Second
)

var errFeedClosed = errors.New("change feed closed")

// conn is one websocket to the change feed. Writes are serialized; the read
// loop runs on its own goroutine.
type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (cn *conn) write(msg realtime.ClientMessage) error {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return cn.ws.WriteJSON(msg)
}

func (cn *conn) close() {
	cn.once.Do(func() {
		close(cn.done)
		cn.ws.Close()
	})
}

// topic is one subscription. Changes are handed to fn on the topic's own
// goroutine; a topic that falls behind loses changes instead of stalling the
// feed.
type topic struct {
	table  string
	filter realtime.Filter
	fn     func(realtime.Change)
	ch     chan realtime.Change
	done   chan struct{}
	once   sync.Once
}

func newTopic(table string, filter realtime.Filter, fn func(realtime.Change)) *topic {
	t := &topic{
		table:  table,
		filter: filter,
		fn:     fn,
		ch:     make(chan realtime.Change, topicBuffer),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *topic) run() {
	for {
		select {
		case c := <-t.ch:
			t.fn(c)
		case <-t.done:
			return
		}
	}
}

func (t *topic) deliver(c realtime.Change) {
	select {
	case t.ch <- c:
	case <-t.done:
	default:
	}
}

func (t *topic) stop() {
	t.once.Do(func() { close(t.done) })
}

func (t *topic) subscribeMessage(id string) realtime.ClientMessage {
	return realtime.ClientMessage{
		Op:     realtime.ClientSubscribe,
		Topic:  id,
		Table:  t.table,
		Filter: t.filter.String(),
	}
}

// Subscribe opens the change feed if needed and registers fn for changes to
// table rows passing filter. It returns once the server has acknowledged the
// subscription, so changes committed afterwards are delivered.
func (c *Client) Subscribe(ctx context.Context, table string, filter realtime.Filter, fn func(realtime.Change)) (func(), error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	t := newTopic(table, filter, fn)
	ack := make(chan error, 1)

	c.mu.Lock()
	c.topics[id] = t
	c.pending[id] = ack
	c.mu.Unlock()

	fail := func(err error) (func(), error) {
		c.mu.Lock()
		delete(c.topics, id)
		delete(c.pending, id)
		c.mu.Unlock()
		t.stop()
		return nil, err
	}

	if err := cn.write(t.subscribeMessage(id)); err != nil {
		return fail(fmt.Errorf("subscribe %s: %w", table, err))
	}
	select {
	case err := <-ack:
		if err != nil {
			return fail(fmt.Errorf("subscribe %s: %w", table, err))
		}
	case <-cn.done:
		return fail(errFeedClosed)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.topics, id)
			cur := c.conn
			c.mu.Unlock()
			t.stop()
			if cur != nil {
				_ = cur.write(realtime.ClientMessage{Op: realtime.ClientUnsubscribe, Topic: id})
			}
		})
	}, nil
}

// connect returns the open feed connection, dialling one if there is none.
func (c *Client) connect(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errFeedClosed
	}
	if c.conn != nil {
		cn := c.conn
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	cn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		// Lost a race with another Subscribe.
		cn.close()
		return c.conn, nil
	}
	c.conn = cn
	go c.readLoop(cn)
	return cn, nil
}

func (c *Client) feedURL() (string, error) {
	u, err := url.Parse(c.base + "/api/realtime")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) (*conn, error) {
	target, err := c.feedURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if token := c.session.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	ws, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	return &conn{ws: ws, done: make(chan struct{})}, nil
}

func (c *Client) readLoop(cn *conn) {
	for {
		var msg realtime.ServerMessage
		if err := cn.ws.ReadJSON(&msg); err != nil {
			c.connLost(cn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg realtime.ServerMessage) {
	c.mu.Lock()
	ack, waiting := c.pending[msg.Topic]
	if waiting && (msg.Status == realtime.StatusSubscribed || msg.Error != "") {
		delete(c.pending, msg.Topic)
	}
	t := c.topics[msg.Topic]
	c.mu.Unlock()

	switch {
	case msg.Error != "":
		if waiting {
			ack <- errors.New(msg.Error)
			return
		}
		c.log.Warn("change feed error", slog.String("topic", msg.Topic), slog.String("error", msg.Error))
	case msg.Status == realtime.StatusSubscribed:
		if waiting {
			ack <- nil
		}
	case msg.Event != "" && t != nil:
		t.deliver(realtime.Change{Table: msg.Table, Op: msg.Event, ID: msg.ID})
	}
}

// connLost forgets cn and, when subscriptions remain, starts reconnecting.
func (c *Client) connLost(cn *conn, err error) {
	cn.close()

	c.mu.Lock()
	if c.conn != cn {
		// Dropped on purpose.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	resume := !c.closed && len(c.topics) > 0 && !c.reconnecting
	if resume {
		c.reconnecting = true
	}
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Warn("change feed lost", slog.Any("error", err))
	}
	if resume {
		go c.reconnect()
	}
}

// reconnect redials with backoff, resubscribes every live topic and then
// nudges each one so its owner re-reads whatever it missed.
func (c *Client) reconnect() {
	backoff := time.Second
	for {
		c.mu.Lock()
		if c.closed || len(c.topics) == 0 {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		cn, err := c.dial(context.Background())
		if err != nil {
			c.log.Debug("change feed redial failed", slog.Any("error", err), slog.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-c.stopped:
				return
			}
			backoff = min(backoff*2, maxReconnect)
			continue
		}

		c.mu.Lock()
		c.conn = cn
		c.reconnecting = false
		topics := make(map[string]*topic, len(c.topics))
		for id, t := range c.topics {
			topics[id] = t
		}
		c.mu.Unlock()

		go c.readLoop(cn)
		for id, t := range topics {
			if err := cn.write(t.subscribeMessage(id)); err != nil {
				// readLoop sees the failure and starts over.
				return
			}
		}
		for _, t := range topics {
			t.deliver(realtime.Change{Table: t.table})
		}
		c.log.Info("change feed resumed", slog.Int("topics", len(topics)))
		return
	}
}

// dropFeed closes the connection and ends every subscription.
func (c *Client) dropFeed() {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	topics := c.topics
	c.topics = make(map[string]*topic)
	pending := c.pending
	c.pending = make(map[string]chan error)
	c.mu.Unlock()

	for _, t := range topics {
		t.stop()
	}
	for _, ack := range pending {
		select {
		case ack <- errFeedClosed:
		default:
		}
	}
	if cn != nil {
		cn.close()
	}
}

package api

import (
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meur/mistbook/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	feedBuffer     = 64
)

// checkOrigin accepts non-browser clients and browsers on an allowed origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, pattern := range s.origins {
		if ok, _ := path.Match(pattern, origin); ok {
			return true
		}
	}
	return false
}

// handleRealtime upgrades to a websocket that streams row changes for the
// tables the client subscribes to.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	f := &feed{
		conn:   conn,
		broker: s.changes,
		log:    s.log.With(slog.String("user_id", userID(r))),
		out:    make(chan realtime.ServerMessage, feedBuffer),
		subs:   make(map[string]*realtime.Subscription),
		done:   make(chan struct{}),
	}
	f.run()
}

// feed is one websocket connection. A single goroutine writes to the
// connection; subscriptions forward into out.
type feed struct {
	conn   *websocket.Conn
	broker *realtime.Broker
	log    *slog.Logger
	out    chan realtime.ServerMessage

	mu   sync.Mutex
	subs map[string]*realtime.Subscription

	done      chan struct{}
	closeOnce sync.Once
}

func (f *feed) run() {
	defer f.close()
	go f.writeLoop()

	f.conn.SetReadLimit(maxMessageSize)
	f.conn.SetReadDeadline(time.Now().Add(pongWait))
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg realtime.ClientMessage
		if err := f.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.log.Debug("realtime read failed", slog.Any("error", err))
			}
			return
		}
		f.handle(msg)
	}
}

func (f *feed) handle(msg realtime.ClientMessage) {
	if msg.Topic == "" {
		f.send(realtime.ServerMessage{Error: "topic is required"})
		return
	}

	switch msg.Op {
	case realtime.ClientSubscribe:
		if msg.Table == "" {
			f.send(realtime.ServerMessage{Topic: msg.Topic, Error: "table is required"})
			return
		}
		filter, err := realtime.ParseFilter(msg.Filter)
		if err != nil {
			f.send(realtime.ServerMessage{Topic: msg.Topic, Error: err.Error()})
			return
		}
		sub := f.broker.Subscribe(msg.Table, filter)

		f.mu.Lock()
		if old, ok := f.subs[msg.Topic]; ok {
			old.Close()
		}
		f.subs[msg.Topic] = sub
		f.mu.Unlock()

		go f.forward(msg.Topic, msg.Table, sub)
		f.send(realtime.ServerMessage{Topic: msg.Topic, Table: msg.Table, Status: realtime.StatusSubscribed})

	case realtime.ClientUnsubscribe:
		f.mu.Lock()
		if sub, ok := f.subs[msg.Topic]; ok {
			sub.Close()
			delete(f.subs, msg.Topic)
		}
		f.mu.Unlock()

	default:
		f.send(realtime.ServerMessage{Topic: msg.Topic, Error: "unknown op " + msg.Op})
	}
}

func (f *feed) forward(topic, table string, sub *realtime.Subscription) {
	for c := range sub.C {
		f.send(realtime.ServerMessage{Topic: topic, Table: table, Event: c.Op, ID: c.ID})
	}
}

func (f *feed) send(msg realtime.ServerMessage) {
	select {
	case f.out <- msg:
	case <-f.done:
	}
}

func (f *feed) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-f.out:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteJSON(msg); err != nil {
				f.close()
				return
			}
		case <-ticker.C:
			f.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.close()
				return
			}
		case <-f.done:
			return
		}
	}
}

func (f *feed) close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		for topic, sub := range f.subs {
			sub.Close()
			delete(f.subs, topic)
		}
		f.mu.Unlock()
		f.conn.Close()
	})
}

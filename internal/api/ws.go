package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Message types exchanged on the websocket.
const (
	MessageSubscribe    = "subscribe"
	MessageUnsubscribe  = "unsubscribe"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
	MessageChange       = "change"
	MessageError        = "error"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
)

// Push is a server to client message.
type Push struct {
	Type     string `json:"type"`
	Resource string `json:"resource,omitempty"`
	Key      string `json:"key,omitempty"`
	Data     any    `json:"data,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
	Error    string `json:"error,omitempty"`
}

// watchRequest is a client message. Subscribe names a resource and either a
// record id or list parameters; unsubscribe names the key it got back, or
// nothing to drop every subscription.
type watchRequest struct {
	Type     string            `json:"type"`
	Resource string            `json:"resource"`
	ID       string            `json:"id"`
	Query    map[string]string `json:"query"`
	Key      string            `json:"key"`
}

func (r watchRequest) values() url.Values {
	v := url.Values{}
	for name, value := range r.Query {
		v.Set(name, value)
	}
	return v
}

type watch struct {
	key      string
	sub      *cache.Subscription
	snapshot Push
}

// wsClient is one websocket connection. Pushes from cache callbacks go
// through send so a slow socket never holds up the cache.
type wsClient struct {
	conn   *websocket.Conn
	logger *zap.Logger
	send   chan Push
	done   chan struct{}

	mu      sync.Mutex
	watches map[string]*watch
}

func (c *wsClient) push(p Push) {
	select {
	case <-c.done:
	case c.send <- p:
	default:
		c.logger.Warn("websocket client too slow, push dropped", zap.String("key", p.Key))
	}
}

func (c *wsClient) writer() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(p); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:    conn,
		logger:  logger,
		send:    make(chan Push, sendBuffer),
		done:    make(chan struct{}),
		watches: make(map[string]*watch),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writer()
	}()

	defer func() {
		c.unwatchAll()
		close(c.done)
		conn.Close()
		wg.Wait()
	}()

	ctx := r.Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var req watchRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			c.push(Push{Type: MessageError, Error: "invalid JSON"})
			continue
		}
		s.handleMessage(ctx, c, req)
	}
}

func (s *Server) handleMessage(ctx context.Context, c *wsClient, req watchRequest) {
	switch strings.ToLower(req.Type) {
	case MessageSubscribe:
		res, ok := s.resources[req.Resource]
		if !ok {
			c.push(Push{Type: MessageError, Resource: req.Resource, Error: "unknown resource"})
			return
		}

		w, err := res.watch(ctx, req, c.push)
		if err != nil {
			c.push(Push{Type: MessageError, Resource: req.Resource, Error: err.Error()})
			return
		}

		c.mu.Lock()
		if prev, ok := c.watches[w.key]; ok {
			prev.sub.Close()
		}
		c.watches[w.key] = w
		c.mu.Unlock()
		c.push(w.snapshot)

	case MessageUnsubscribe:
		if req.Key == "" {
			c.unwatchAll()
		} else {
			c.mu.Lock()
			if w, ok := c.watches[req.Key]; ok {
				w.sub.Close()
				delete(c.watches, req.Key)
			}
			c.mu.Unlock()
		}
		c.push(Push{Type: MessageUnsubscribed, Key: req.Key})

	default:
		c.push(Push{Type: MessageError, Error: "unknown message type"})
	}
}

func (c *wsClient) unwatchAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, w := range c.watches {
		w.sub.Close()
		delete(c.watches, key)
	}
}

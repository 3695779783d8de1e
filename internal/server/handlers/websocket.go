// internal/server/handlers/websocket.go

package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
)

// wsClient is one connected monitoring client receiving job lifecycle
// events
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	sub  *nats.Subscription

	mu     sync.Mutex
	closed bool
}

// enqueue hands an event to the write pump. Unsubscribe does not wait
// for an in-flight delivery callback, so the send and the teardown
// close must be ordered under the same lock.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		// Slow consumer; drop the event rather than block the bus
	}
}

// shutdown stops event delivery and releases the write pump
func (c *wsClient) shutdown() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}

	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration
}

// defaultWSConfig returns the default WebSocket configuration
func defaultWSConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: (60 * time.Second * 9) / 10,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// JobEventsHandler upgrades the connection and streams every job
// lifecycle event published on the event bus to the client. Clients
// are read-only; anything they send besides pongs is discarded.
func JobEventsHandler(natsConn *nats.Conn, eventsTopic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade to WebSocket: %v", err)
			return
		}

		client := &wsClient{
			conn: conn,
			send: make(chan []byte, 256),
		}

		sub, err := natsConn.Subscribe(eventsTopic+".>", func(msg *nats.Msg) {
			client.enqueue(msg.Data)
		})
		if err != nil {
			log.Printf("Failed to subscribe to job events: %v", err)
			conn.Close()
			return
		}
		client.sub = sub

		cfg := defaultWSConfig()
		go client.writePump(cfg)
		go client.readPump(cfg)
	}
}

// writePump forwards queued events to the peer and keeps the
// connection alive with pings
func (c *wsClient) writePump(cfg WebSocketConfig) {
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection until the peer goes away, then tears
// down the NATS subscription
func (c *wsClient) readPump(cfg WebSocketConfig) {
	defer func() {
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Symbols the client subscribed to; empty means all.
	subMu   sync.RWMutex
	symbols map[string]bool
}

// subscribeMsg is the only client→server message besides pings:
// {"type":"SUBSCRIBE","symbols":["ETH-USDT-SWAP"]}.
type subscribeMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func (c *Client) wants(symbol string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

func (c *Client) sendInitialState(sinceSeq int64) {
	if sinceSeq > 0 {
		for _, e := range c.hub.history.Since(sinceSeq) {
			c.enqueue(e.Data)
		}
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	now := c.hub.now().UTC()
	for _, d := range c.hub.latest {
		c.enqueue(envelope("initial", d, now, c.hub.seq))
	}
}

func (c *Client) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued messages into one frame, newline separated
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch {
		case msg.Type == "SUBSCRIBE":
			set := make(map[string]bool, len(msg.Symbols))
			for _, s := range msg.Symbols {
				set[s] = true
			}
			c.subMu.Lock()
			c.symbols = set
			c.subMu.Unlock()
			log.Printf("[gateway] client subscribed: symbols=%v", msg.Symbols)

		case msg.Ping > 0:
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.enqueue(pong)
		}
	}
}

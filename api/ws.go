package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"election-ledger/models"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Message represents a WebSocket message.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SealedBlock is the payload of a "block" message.
type SealedBlock struct {
	Block       models.Block                 `json:"block"`
	Transaction models.TransactionDescriptor `json:"transaction"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// BlockHub pushes every sealed block to connected WebSocket clients. Clients
// that fall behind are disconnected rather than allowed to stall the ledger.
type BlockHub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}
}

func NewBlockHub() *BlockHub {
	return &BlockHub{clients: make(map[*subscriber]struct{})}
}

func (h *BlockHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish has the service.VoteListener signature.
func (h *BlockHub) Publish(block models.Block, receipt models.Receipt) {
	data, err := json.Marshal(SealedBlock{Block: block, Transaction: receipt.Transaction})
	if err != nil {
		log.Printf("Warning: Failed to marshal block %d: %v", block.Index, err)
		return
	}
	msg, err := json.Marshal(Message{Type: "block", Data: data})
	if err != nil {
		log.Printf("Warning: Failed to marshal block message: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("Warning: dropping slow block subscriber %s", c.conn.RemoteAddr())
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *BlockHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	c := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *BlockHub) remove(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *BlockHub) writeLoop(c *subscriber) {
	defer c.conn.Close()

	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("Failed to write to block subscriber: %v", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// Close disconnects every subscriber.
func (h *BlockHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Package display pushes change events to the kitchen, bar and floor
// panels over websockets. Panels re-fetch what they show on every event.
package display

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"maitred/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4 * 1024
)

// Panel names the screen a client renders
type Panel string

const (
	PanelKitchen Panel = "kitchen"
	PanelBar     Panel = "bar"
	PanelFloor   Panel = "floor"
	PanelAll     Panel = ""
)

var panelTables = map[Panel][]string{
	PanelKitchen: {"kitchen_tasks", "order_items"},
	PanelBar:     {"kitchen_tasks", "order_items"},
	PanelFloor:   {"restaurant_tables", "table_sessions", "orders", "order_items", "payments"},
}

// FilterFor returns the events a panel of the restaurant needs
func FilterFor(restaurantID uint, p Panel) realtime.Filter {
	return realtime.Filter{RestaurantID: restaurantID, Tables: panelTables[p]}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // panels run on the restaurant LAN
	},
}

// Hub tracks connected panels
type Hub struct {
	bus    realtime.Bus
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn   *websocket.Conn
	events <-chan realtime.Event
	cancel context.CancelFunc
}

func NewHub(bus realtime.Bus, logger *zap.Logger) *Hub {
	return &Hub{bus: bus, logger: logger, clients: make(map[*client]struct{})}
}

// Clients returns the number of connected panels
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and streams every event matching f until the
// panel disconnects.
func (h *Hub) Serve(c *gin.Context, f realtime.Filter) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.bus.Subscribe(ctx, f)
	if err != nil {
		cancel()
		h.logger.Error("display subscribe failed", zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		conn.Close()
		return
	}

	cl := &client{conn: conn, events: events, cancel: cancel}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("panel connected",
		zap.Uint("restaurant_id", f.RestaurantID),
		zap.Strings("tables", f.Tables))

	go h.writePump(cl)
	go h.readPump(cl)
}

func (h *Hub) drop(cl *client) {
	cl.cancel()
	h.mu.Lock()
	_, ok := h.clients[cl]
	delete(h.clients, cl)
	h.mu.Unlock()
	if ok {
		cl.conn.Close()
	}
}

// readPump only watches for disconnects; panels never send commands here.
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)

	cl.conn.SetReadLimit(readLimit)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("panel read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(cl)
	}()

	for {
		select {
		case e, ok := <-cl.events:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every panel
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()
	for _, cl := range clients {
		h.drop(cl)
	}
}

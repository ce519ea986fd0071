package display

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maitred/internal/realtime"
)

func setupHub(t *testing.T, p Panel) (*Hub, *realtime.LocalBus, *websocket.Conn) {
	gin.SetMode(gin.TestMode)
	bus := realtime.NewLocalBus()
	hub := NewHub(bus, zap.NewNop())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { hub.Serve(c, FilterFor(1, p)) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	return hub, bus, conn
}

func TestHubPushesMatchingEvents(t *testing.T) {
	_, bus, conn := setupHub(t, PanelKitchen)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, realtime.Event{Table: "restaurant_tables", Kind: realtime.KindUpdate, RestaurantID: 1}))
	require.NoError(t, bus.Publish(ctx, realtime.Event{Table: "kitchen_tasks", Kind: realtime.KindUpdate, RestaurantID: 2}))
	require.NoError(t, bus.Publish(ctx, realtime.Event{Table: "kitchen_tasks", Kind: realtime.KindInsert, RestaurantID: 1}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got realtime.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "kitchen_tasks", got.Table)
	assert.Equal(t, realtime.KindInsert, got.Kind)
	assert.Equal(t, uint(1), got.RestaurantID)
}

func TestHubDropsClosedPanels(t *testing.T) {
	hub, _, conn := setupHub(t, PanelFloor)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubCloseDisconnects(t *testing.T) {
	hub, _, conn := setupHub(t, PanelAll)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestFilterFor(t *testing.T) {
	f := FilterFor(4, PanelBar)
	assert.True(t, f.Match(realtime.Event{Table: "kitchen_tasks", RestaurantID: 4}))
	assert.False(t, f.Match(realtime.Event{Table: "payments", RestaurantID: 4}))
	assert.True(t, FilterFor(4, PanelAll).Match(realtime.Event{Table: "payments"}))
}

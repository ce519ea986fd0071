// Package api exposes the front-of-house operations over HTTP. Handlers are
// thin: they resolve the caller, load the session and delegate.
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"maitred/internal/billing"
	"maitred/internal/display"
	"maitred/internal/floor"
	"maitred/internal/kitchen"
	"maitred/internal/monitoring"
	"maitred/internal/ordering"
	"maitred/internal/store"
)

// Deps are the services the handlers delegate to
type Deps struct {
	Store   store.Store
	Floor   *floor.Service
	Orders  *ordering.Manager
	Kitchen *kitchen.Dispatcher
	Billing *billing.Engine
	Hub     *display.Hub
	Monitor *monitoring.Monitor
	Logger  *zap.Logger
}

// Options configure the HTTP surface
type Options struct {
	Secret       string
	AuthDisabled bool
	RestaurantID uint
	RateLimit    string
}

// Server represents the main API handler
type Server struct {
	Router *gin.Engine

	store   store.Store
	floor   *floor.Service
	orders  *ordering.Manager
	kitchen *kitchen.Dispatcher
	billing *billing.Engine
	hub     *display.Hub
	monitor *monitoring.Monitor
	logger  *zap.Logger
	opts    Options
}

// NewServer creates the router with every route registered
func NewServer(deps Deps, opts Options) (*Server, error) {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(deps.Logger))
	if opts.RateLimit != "" {
		limit, err := RateLimit(opts.RateLimit)
		if err != nil {
			return nil, err
		}
		router.Use(limit)
	}

	s := &Server{
		Router:  router,
		store:   deps.Store,
		floor:   deps.Floor,
		orders:  deps.Orders,
		kitchen: deps.Kitchen,
		billing: deps.Billing,
		hub:     deps.Hub,
		monitor: deps.Monitor,
		logger:  deps.Logger,
		opts:    opts,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.Router.GET("/health", s.health)

	auth := AuthMiddleware(s.opts.Secret)
	if s.opts.AuthDisabled {
		auth = staticIdentity(s.opts.RestaurantID)
	}
	s.Router.GET("/ws", auth, s.displayFeed)

	v1 := s.Router.Group("/api/v1", auth)
	{
		v1.GET("/tables", s.listTables)
		v1.POST("/tables/:id/reserve", s.reserveTable)
		v1.POST("/tables/:id/cancel-reservation", s.cancelReservation)
		v1.POST("/tables/:id/seat", s.seatTable)
		v1.POST("/tables/:id/unavailable", s.markUnavailable)
		v1.POST("/tables/:id/available", s.markAvailable)

		v1.POST("/sessions/:id/bill", s.printBill)
		v1.POST("/sessions/:id/force-close", s.forceClose)

		v1.GET("/sessions/:id/order", s.getOrder)
		v1.POST("/sessions/:id/items", s.addItem)
		v1.PATCH("/sessions/:id/items/:key/quantity", s.changeQuantity)
		v1.PUT("/sessions/:id/items/:key/note", s.annotateNote)
		v1.DELETE("/sessions/:id/items/:key", s.removeItem)
		v1.POST("/sessions/:id/courses/:course/fire", s.fireCourse)
		v1.POST("/sessions/:id/items/:key/void", s.voidItem)
		v1.POST("/sessions/:id/items/:key/comp", s.compItem)
		v1.PUT("/sessions/:id/tip", s.setTip)
		v1.POST("/sessions/:id/quote", s.quote)
		v1.POST("/sessions/:id/settle", s.settle)

		v1.GET("/kitchen/board", s.board)
		v1.POST("/kitchen/tasks/:id/transition", s.applyTransition)
		v1.POST("/kitchen/tasks/:id/propose", s.proposeTransition)
		v1.POST("/kitchen/tasks/:id/discard", s.discardTask)
		v1.POST("/kitchen/proposals/:id/confirm", s.confirmProposal)
		v1.POST("/kitchen/proposals/:id/cancel", s.cancelProposal)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.monitor != nil {
		if s.hub != nil {
			s.monitor.RecordComponent("display", map[string]interface{}{"clients": s.hub.Clients()})
		}
		s.monitor.RecordComponent("orders", map[string]interface{}{"sessions": s.orders.Held()})
		body["metrics"] = s.monitor.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) displayFeed(c *gin.Context) {
	if s.hub == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "display feed disabled"})
		return
	}
	panel := display.Panel(c.Query("panel"))
	s.hub.Serve(c, display.FilterFor(identity(c).RestaurantID, panel))
}

func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, fmt.Errorf("invalid %s %q", name, c.Param(name)))
		return 0, false
	}
	return uint(v), true
}

// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticket-admission/internal/config"
	"github.com/iliyamo/ticket-admission/internal/handler"
	"github.com/iliyamo/ticket-admission/internal/inventory"
	"github.com/iliyamo/ticket-admission/internal/logging"
	"github.com/iliyamo/ticket-admission/internal/middleware"
	"github.com/iliyamo/ticket-admission/internal/queue"
	"github.com/iliyamo/ticket-admission/internal/reservation"
	"github.com/iliyamo/ticket-admission/internal/store"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	JWTSecret string
	Log       logrus.FieldLogger
	Redis     redis.UniversalClient
	Store     store.Store

	Queue     *queue.Queue
	Activator *queue.Activator
	Inventory *inventory.Inventory
	Ledger    *reservation.Ledger

	// BatchSize and ActivationInterval feed the wait estimate.
	BatchSize          int
	ActivationInterval time.Duration

	RateLimit config.RateLimitConfig
	SeatCache config.SeatCacheConfig

	// Now is the clock the queue gate checks admission windows against.
	Now func() time.Time
}

// New builds the Echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger(d.Log))

	RegisterPublic(e, d)
	RegisterQueue(e, d)
	RegisterReservations(e, d)
	RegisterAdmin(e, d)
	return e
}

// RegisterPublic registers routes that need no authentication: health,
// metrics and the seat map.
func RegisterPublic(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(map[string]handler.Pinger{
		"redis": d.Queue,
		"store": d.Store,
	}))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	seats := &handler.SeatHandler{Inventory: d.Inventory, Log: d.Log}
	e.GET("/v1/sessions/:id/seats", seats.List, middleware.NewSeatMapCache(d.SeatCache, d.Redis, d.Log))
}

// RegisterQueue registers the waiting-room routes.  Joining is rate
// limited; polling is not, since clients poll on a timer anyway.
func RegisterQueue(e *echo.Echo, d Deps) {
	h := &handler.QueueHandler{Queue: d.Queue, BatchSize: d.BatchSize, Period: d.ActivationInterval, Log: d.Log}
	g := e.Group("/v1/queue", middleware.JWTAuth(d.JWTSecret))
	g.POST("", h.Enqueue, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	g.GET("/:token", h.Status)
	g.DELETE("/:token", h.Leave)
}

// RegisterReservations registers the reservation routes.  Writes require an
// ACTIVE queue token in X-Queue-Token; reading an existing reservation
// does not.
func RegisterReservations(e *echo.Echo, d Deps) {
	h := &handler.ReservationHandler{Ledger: d.Ledger, Log: d.Log}
	gate := middleware.QueueGate(d.Queue, d.Now, d.Log)
	g := e.Group("/v1/reservations", middleware.JWTAuth(d.JWTSecret))
	g.POST("", h.Create, gate)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Cancel, gate)
}

// RegisterAdmin registers operator routes, restricted to the ADMIN role.
func RegisterAdmin(e *echo.Echo, d Deps) {
	h := &handler.AdminHandler{Queue: d.Queue, Activator: d.Activator, Log: d.Log}
	g := e.Group("/v1/admin", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole("ADMIN"))
	g.GET("/queue", h.Stats)
	g.POST("/queue/activate", h.Activate)
}

// Package api exposes the engine control surface over HTTP and websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bud42069/AT-1000/internal/events"
	"github.com/bud42069/AT-1000/internal/execution"
	"github.com/bud42069/AT-1000/internal/guard"
)

// Controller is the slice of the engine the API drives.
type Controller interface {
	KillSwitch(ctx context.Context, reason string) (int, error)
	Resume()
	Halted() bool
	Orders() []execution.ManagedOrder
}

// Server wires the engine, guard source and event streams to routes.
type Server struct {
	Engine     Controller
	Guards     guard.Source
	Thresholds guard.Thresholds
	Activity   *events.Activity
	Bus        *events.Bus
	Log        zerolog.Logger
	now        func() time.Time
}

// New builds a server. Guards, Activity and Bus are optional.
func New(engine Controller, guards guard.Source, th guard.Thresholds, activity *events.Activity, bus *events.Bus, log zerolog.Logger) *Server {
	return &Server{
		Engine:     engine,
		Guards:     guards,
		Thresholds: th,
		Activity:   activity,
		Bus:        bus,
		Log:        log.With().Str("component", "api").Logger(),
		now:        time.Now,
	}
}

// Router returns the gin handler with every route under /api/engine.
func (s *Server) Router() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	engine := r.Group("/api/engine")
	engine.GET("/ping", s.ping)
	engine.GET("/activity", s.activity)
	engine.GET("/orders", s.orders)
	engine.GET("/guards", s.guards)
	engine.POST("/kill", s.kill)
	engine.POST("/resume", s.resume)
	engine.GET("/ws", s.websocket)
	return r
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"halted": s.Engine.Halted(),
		"ts":     s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) activity(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	var recent []events.Event
	if s.Activity != nil {
		recent = s.Activity.Recent()
	}
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	if recent == nil {
		recent = []events.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": recent, "count": len(recent)})
}

func (s *Server) orders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.Engine.Orders()})
}

func (s *Server) guards(c *gin.Context) {
	if s.Guards == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": guard.ErrUnavailable.Error()})
		return
	}
	snap, err := s.Guards.Snapshot(c.Request.Context())
	if err != nil || snap == nil {
		if err == nil {
			err = guard.ErrUnavailable
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	verdict := guard.Evaluate(snap, 0, s.Thresholds)
	c.JSON(http.StatusOK, gin.H{
		"ts":            snap.Ts.UnixMilli(),
		"spread_bps":    snap.SpreadBps,
		"depth_10bps":   snap.Depth,
		"funding_apr":   snap.FundingAPR,
		"basis_bps":     snap.BasisBps,
		"liq_events_5m": snap.LiqEvents5m,
		"max_leverage":  snap.MaxLeverage,
		"data_sources":  gin.H{"guards": "live"},
		"verdict": gin.H{
			"pass":    verdict.Pass(),
			"reason":  verdict.Reason,
			"message": verdict.Message,
		},
	})
}

type killRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) kill(c *gin.Context) {
	var req killRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	cancelled, err := s.Engine.KillSwitch(c.Request.Context(), req.Reason)
	if err != nil {
		s.Log.Error().Err(err).Msg("kill switch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "halted": s.Engine.Halted()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled, "reason": req.Reason, "halted": true})
}

func (s *Server) resume(c *gin.Context) {
	s.Engine.Resume()
	c.JSON(http.StatusOK, gin.H{"halted": s.Engine.Halted()})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade error")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	stream, unsub := s.Bus.Subscribe(100)
	defer unsub()

	// reader goroutine notices client disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					s.Log.Debug().Err(err).Msg("ws write error")
				}
				return
			}
		case <-closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

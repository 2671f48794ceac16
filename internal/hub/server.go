package hub

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

// Server exposes the hub contract on a loopback address so producer and
// consumer processes can share one hub. Every route requires a bearer
// token minted from the shared secret; staleness TTLs stay authoritative
// inside the owning process.
type Server struct {
	hub    *Hub
	tokens *TokenManager
	log    *logging.Logger
	srv    *http.Server
}

// NewServer creates a hub loopback server.
func NewServer(h *Hub, secret string) *Server {
	return &Server{
		hub:    h,
		tokens: NewTokenManager(secret, 5*time.Minute),
		log:    logging.WithComponent("hub_server"),
	}
}

// Start begins serving on addr. Non-blocking; errors after startup are
// logged, not returned.
func (s *Server) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.authMiddleware())

	router.POST("/hub/tick", s.handleUpdateTick)
	router.POST("/hub/candle", s.handleUpdateCandle)
	router.POST("/hub/orderflow", s.handleUpdateOrderFlow)
	router.POST("/hub/ta", s.handleUpdateTA)

	router.GET("/hub/tick/:instrument", s.handleLatestTick)
	router.GET("/hub/candles/:instrument", s.handleLatestCandles)
	router.GET("/hub/orderflow/:instrument", s.handleLatestOrderFlow)
	router.GET("/hub/ta/:instrument", s.handleLatestTA)
	router.GET("/hub/staleness/:instrument", s.handleStaleness)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		s.log.Info("hub loopback listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("hub loopback server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		process, err := s.tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("process", process)
		c.Next()
	}
}

func (s *Server) handleUpdateTick(c *gin.Context) {
	var t market.Tick
	if err := c.ShouldBindJSON(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.UpdateTick(t)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateCandle(c *gin.Context) {
	var candle market.Candle
	if err := c.ShouldBindJSON(&candle); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.UpdateCandle(candle)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateOrderFlow(c *gin.Context) {
	var m market.OrderFlowMetrics
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.UpdateOrderFlow(m)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUpdateTA(c *gin.Context) {
	var snap market.TAIndicatorSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.hub.UpdateTA(snap)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLatestTick(c *gin.Context) {
	tick, ok := s.hub.LatestTick(c.Param("instrument"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (s *Server) handleLatestCandles(c *gin.Context) {
	timeframe := c.DefaultQuery("timeframe", market.Timeframe1m)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
		return
	}
	candles := s.hub.LatestCandles(c.Param("instrument"), timeframe, limit)
	c.JSON(http.StatusOK, candles)
}

func (s *Server) handleLatestOrderFlow(c *gin.Context) {
	m, ok := s.hub.LatestOrderFlow(c.Param("instrument"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleLatestTA(c *gin.Context) {
	snap, ok := s.hub.LatestTA(c.Param("instrument"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleStaleness(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.CheckStaleness(c.Param("instrument")))
}

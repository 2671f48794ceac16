// Package api serves the runtime control surface: health, Prometheus
// metrics, task status and start/stop, open trades, breaker state and
// active news windows. Mutating and status routes sit behind bearer
// auth; health and metrics stay open for probes and scrapers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fx-scalper-bot/config"
	"fx-scalper-bot/internal/auth"
	"fx-scalper-bot/internal/bot"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/lifecycle"
	"fx-scalper-bot/internal/logging"
	"fx-scalper-bot/internal/market"
)

const eventBufferSize = 100

// TaskController exposes the supervisor to the control surface.
type TaskController interface {
	Statuses() []bot.Status
	Start(name string) error
	Stop(name string) error
}

// TradeSource exposes open positions; the lifecycle satisfies it.
type TradeSource interface {
	OpenTrades() []market.ActiveTrade
}

// BreakerSource exposes the loss breaker counters.
type BreakerSource interface {
	Stats() (state lifecycle.BreakerState, consecutiveLosses, dailyTrades int, dailyPnL float64)
}

// WindowSource exposes active news gating windows.
type WindowSource interface {
	ActiveWindows() []market.GatingWindow
}

// Server is the control API server.
type Server struct {
	cfg     config.ServerConfig
	tasks   TaskController
	trades  TradeSource
	breaker BreakerSource
	news    WindowSource
	tokens  *auth.TokenManager
	log     *logging.Logger
	srv     *http.Server

	recent *eventRing
}

// NewServer creates the control server. Any source may be nil; its
// route then reports empty data rather than failing.
func NewServer(cfg config.ServerConfig, tasks TaskController, trades TradeSource, breaker BreakerSource, news WindowSource, tokens *auth.TokenManager, bus *events.Bus) *Server {
	s := &Server{
		cfg:     cfg,
		tasks:   tasks,
		trades:  trades,
		breaker: breaker,
		news:    news,
		tokens:  tokens,
		log:     logging.WithComponent("api"),
		recent:  newEventRing(eventBufferSize),
	}
	if bus != nil {
		bus.SubscribeAll(s.recent.add)
	}
	return s
}

// Start begins serving. Non-blocking; use Shutdown to stop.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(auth.Middleware(s.tokens))
	{
		v1.GET("/tasks", s.handleTasks)
		v1.POST("/tasks/:name/start", s.handleTaskStart)
		v1.POST("/tasks/:name/stop", s.handleTaskStop)
		v1.GET("/trades/open", s.handleOpenTrades)
		v1.GET("/breaker", s.handleBreaker)
		v1.GET("/news/windows", s.handleNewsWindows)
		v1.GET("/events", s.handleEvents)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	go func() {
		s.log.Info("control api listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("control api stopped", "error", err)
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

func (s *Server) corsConfig() cors.Config {
	corsCfg := cors.DefaultConfig()
	origins := strings.Split(s.cfg.AllowedOrigins, ",")
	if len(origins) == 1 && strings.TrimSpace(origins[0]) == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		corsCfg.AllowOrigins = origins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	return corsCfg
}

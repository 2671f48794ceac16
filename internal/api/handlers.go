package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"fx-scalper-bot/internal/bot"
	"fx-scalper-bot/internal/events"
	"fx-scalper-bot/internal/market"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleTasks(c *gin.Context) {
	if s.tasks == nil {
		c.JSON(http.StatusOK, []bot.Status{})
		return
	}
	c.JSON(http.StatusOK, s.tasks.Statuses())
}

func (s *Server) handleTaskStart(c *gin.Context) {
	if s.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no task controller"})
		return
	}
	name := c.Param("name")
	if err := s.tasks.Start(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("task start requested", "task", name, "operator", c.GetString("operator"))
	c.JSON(http.StatusAccepted, gin.H{"task": name, "state": bot.StateRunning})
}

func (s *Server) handleTaskStop(c *gin.Context) {
	if s.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no task controller"})
		return
	}
	name := c.Param("name")
	if err := s.tasks.Stop(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Info("task stop requested", "task", name, "operator", c.GetString("operator"))
	c.JSON(http.StatusAccepted, gin.H{"task": name, "state": bot.StateStopped})
}

func (s *Server) handleOpenTrades(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusOK, []market.ActiveTrade{})
		return
	}
	c.JSON(http.StatusOK, s.trades.OpenTrades())
}

func (s *Server) handleBreaker(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	state, losses, trades, pnl := s.breaker.Stats()
	c.JSON(http.StatusOK, gin.H{
		"state":              state,
		"consecutive_losses": losses,
		"daily_trades":       trades,
		"daily_pnl_cash":     pnl,
	})
}

func (s *Server) handleNewsWindows(c *gin.Context) {
	if s.news == nil {
		c.JSON(http.StatusOK, []market.GatingWindow{})
		return
	}
	c.JSON(http.StatusOK, s.news.ActiveWindows())
}

func (s *Server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, s.recent.snapshot())
}

// eventRing keeps the most recent bus events for the control surface.
type eventRing struct {
	mu   sync.Mutex
	buf  []events.Event
	next int
	full bool
}

func newEventRing(size int) *eventRing {
	return &eventRing{buf: make([]events.Event, size)}
}

func (r *eventRing) add(ev events.Event) {
	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// snapshot returns buffered events oldest first.
func (r *eventRing) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]events.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]events.Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

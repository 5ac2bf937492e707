package lock

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/wire"
)

// Server is one shard of the sharded lock fleet (spec.md §4.E). Each shard
// is an independent process/Gin server holding its own table.
type Server struct {
	t      *table
	log    zerolog.Logger
	engine *gin.Engine
}

func NewServer(log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{t: newTable(), log: log, engine: r}
	r.POST("/lock/Acquire", s.handleAcquire)
	r.POST("/lock/Release", s.handleRelease)
	r.POST("/lock/Heartbeat", s.handleHeartbeat)
	r.POST("/lock/Ping", s.handlePing)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleAcquire(c *gin.Context) {
	var req wire.AcquireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	if err := s.t.acquireAll(c.Request.Context(), req.ReadKeys, req.WriteKeys, req.IsKeeper); err != nil {
		c.JSON(http.StatusServiceUnavailable, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.FlagResponse{Flag: true})
}

func (s *Server) handleRelease(c *gin.Context) {
	var req wire.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	s.t.release(req.ReadKeys, req.WriteKeys)
	c.JSON(http.StatusOK, wire.FlagResponse{Flag: true})
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	c.JSON(http.StatusOK, wire.FlagResponse{Flag: true})
}

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, wire.FlagResponse{Flag: true})
}

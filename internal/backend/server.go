package backend

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/wire"
)

// Server adapts RPC calls 1:1 onto a Store. It is a stateless wrapper —
// all state lives in Store — exactly the shape of spec.md §4.B.
type Server struct {
	store  *Store
	log    zerolog.Logger
	engine *gin.Engine
}

// NewServer builds the Gin engine and routes, grounded on the teacher's
// internal/api/handlers.go route grouping and internal/api/middleware.go
// Logger/Recovery pair.
func NewServer(store *Store, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginLogger(log), ginRecovery(log))

	s := &Server{store: store, log: log, engine: r}

	rpc := r.Group("/rpc")
	rpc.POST("/Get", s.handleGet)
	rpc.POST("/Set", s.handleSet)
	rpc.POST("/Keys", s.handleKeys)
	rpc.POST("/ListGet", s.handleListGet)
	rpc.POST("/ListSet", s.handleListSet)
	rpc.POST("/ListAppend", s.handleListAppend)
	rpc.POST("/ListRemove", s.handleListRemove)
	rpc.POST("/ListKeys", s.handleListKeys)
	rpc.POST("/Clock", s.handleClock)

	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleGet(c *gin.Context) {
	var req wire.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	v, ok := s.store.Get(req.Key)
	if !ok {
		c.JSON(http.StatusNotFound, wire.ErrorBody{Error: wire.KeyErrorMessage})
		return
	}
	c.JSON(http.StatusOK, wire.GetResponse{Value: v})
}

func (s *Server) handleSet(c *gin.Context) {
	var req wire.SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	ok := s.store.Set(req.Key, req.Value)
	c.JSON(http.StatusOK, wire.SetResponse{OK: ok})
}

func (s *Server) handleKeys(c *gin.Context) {
	var req wire.KeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.KeysResponse{Keys: s.store.Keys(req.Prefix, req.Suffix)})
}

func (s *Server) handleListGet(c *gin.Context) {
	var req wire.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.ListGetResponse{List: s.store.ListGet(req.Key)})
}

func (s *Server) handleListSet(c *gin.Context) {
	var req wire.ListSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.SetResponse{OK: s.store.ListSet(req.Key, req.List)})
}

func (s *Server) handleListAppend(c *gin.Context) {
	var req wire.ListAppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.SetResponse{OK: s.store.ListAppend(req.Key, req.Value)})
}

func (s *Server) handleListRemove(c *gin.Context) {
	var req wire.ListRemoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.ListRemoveResponse{Removed: s.store.ListRemove(req.Key, req.Value)})
}

func (s *Server) handleListKeys(c *gin.Context) {
	var req wire.KeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.KeysResponse{Keys: s.store.ListKeys(req.Prefix, req.Suffix)})
}

func (s *Server) handleClock(c *gin.Context) {
	var req wire.ClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, wire.ErrorBody{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, wire.ClockResponse{Timestamp: s.store.Clock(req.Timestamp)})
}

// ginLogger mirrors the teacher's internal/api/middleware.go Logger(),
// swapped onto zerolog per SPEC_FULL.md §1.
func ginLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("rpc")
	}
}

// ginRecovery mirrors the teacher's Recovery() middleware.
func ginRecovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, wire.ErrorBody{Error: "internal server error"})
			}
		}()
		c.Next()
	}
}

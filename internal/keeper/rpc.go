// Package keeper implements the clock broadcaster (spec.md §4.J), the
// migrator (§4.K), and the keeper peer RPC (§4.L).
package keeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/wire"
)

// Server exposes the one-method KeeperService peers use to probe each
// other's liveness for both leadership predicates (§4.J, §4.K).
type Server struct {
	log    zerolog.Logger
	engine *gin.Engine
}

func NewServer(log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	s := &Server{log: log, engine: r}
	r.POST("/keeper/Ping", s.handlePing)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handlePing(c *gin.Context) {
	var req wire.KeeperPingRequest
	_ = c.ShouldBindJSON(&req)
	c.JSON(http.StatusOK, wire.KeeperPingResponse{Value: true})
}

// PeerClient pings sibling keepers, used by the leadership predicates in
// broadcaster.go and migrator.go. Any doubt (a ping error) makes the caller
// treat that peer as dead, never as "leader" (spec.md §4.K "Failure
// semantics": split brain is prevented by requiring unanimous peer
// inferiority).
type PeerClient struct {
	http *http.Client
}

func NewPeerClient() *PeerClient {
	return &PeerClient{http: &http.Client{Timeout: 2 * time.Second}}
}

func (p *PeerClient) Ping(ctx context.Context, addr string) error {
	data, _ := json.Marshal(wire.KeeperPingRequest{Heartbeat: true})
	url := fmt.Sprintf("http://%s/keeper/Ping", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keeper: ping %s: status %d", addr, resp.StatusCode)
	}
	return nil
}

// AliveKeepers pings every peer address and returns the set of indices that
// answered, including self (self is always considered alive).
func AliveKeepers(ctx context.Context, peer *PeerClient, keepers []string, self int) map[int]bool {
	alive := map[int]bool{self: true}
	for i, addr := range keepers {
		if i == self {
			continue
		}
		if err := peer.Ping(ctx, addr); err == nil {
			alive[i] = true
		}
	}
	return alive
}

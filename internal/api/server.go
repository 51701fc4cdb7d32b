// Package api provides the local status API server.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/tos-network/tos-miner/internal/config"
	"github.com/tos-network/tos-miner/internal/manager"
	"github.com/tos-network/tos-miner/internal/util"
)

// StatsSource is the orchestrator surface the API reads from.
type StatsSource interface {
	Snapshot() manager.Stats
	Pools() []manager.PoolInfo
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local status endpoint
	},
}

// Server is the API server
type Server struct {
	cfg    *config.Config
	source StatsSource
	router *gin.Engine
	server *http.Server
	quit   chan struct{}
}

// StatsResponse is the /api/stats response
type StatsResponse struct {
	Stats manager.Stats `json:"stats"`
	Now   int64         `json:"now"`
}

// PoolsResponse is the /api/pools response
type PoolsResponse struct {
	Pools []manager.PoolInfo `json:"pools"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, source StatsSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		source: source,
		router: router,
		quit:   make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures API endpoints
func (s *Server) setupRoutes() {
	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := s.router.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/pools", s.handlePools)
		api.GET("/ws", s.handleWebSocket)
	}

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Start begins the API server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.API.Bind,
		Handler: s.router,
	}

	util.Infof("API server listening on %s", s.cfg.API.Bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts down the API server
func (s *Server) Stop() error {
	close(s.quit)
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// handleStats returns the current orchestration snapshot
func (s *Server) handleStats(c *gin.Context) {
	c.JSON(200, StatsResponse{
		Stats: s.source.Snapshot(),
		Now:   time.Now().Unix(),
	})
}

// handlePools returns the failover list with the active pool marked
func (s *Server) handlePools(c *gin.Context) {
	c.JSON(200, PoolsResponse{Pools: s.source.Pools()})
}

// handleWebSocket streams snapshots to the client on the configured push
// period until the client goes away or the server stops.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		// Drain incoming frames so close/ping handling works.
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.API.PushPeriod)
	defer ticker.Stop()

	for {
		resp := StatsResponse{
			Stats: s.source.Snapshot(),
			Now:   time.Now().Unix(),
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-s.quit:
			return
		}
	}
}

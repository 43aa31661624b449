package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-meet/config"
	"github.com/mossy-p/webrtc-meet/internal/metrics"
	"github.com/mossy-p/webrtc-meet/internal/middleware"
	"github.com/mossy-p/webrtc-meet/internal/relay"
	"github.com/mossy-p/webrtc-meet/internal/store"
)

// NewRouter wires every HTTP and websocket route of the signaling server
func NewRouter(cfg *config.Config, hub *relay.Hub, s store.Store, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Environment != "production" {
		router.Use(gin.Logger())
	}

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	reg := hub.Registry()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.PrometheusHandler(m, hub.Collect)))

	// Ad-hoc rooms
	router.GET("/new", NewRoom)
	router.GET("/room/:room", RoomInfo(s, reg))

	// Room reservations
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret))
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), CreateRoom(s, reg))
		apiGroup.GET("/rooms/:roomId", GetRoom(s, reg))
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(cfg.JWTSecret), DeleteRoom(s, hub))
	}

	// WebSocket signaling; the room may be given in the path or in a join frame
	signal := Signaling(hub, cfg.MaxSignalingMessageBytes)
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", signal)
		wsGroup.GET("/signal/:roomId", signal)
	}

	return router
}

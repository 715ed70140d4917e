package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"gridmatch/internal/auth"
	"gridmatch/internal/config"
	"gridmatch/internal/roomstore"
)

// NewServer builds the relay HTTP server: room REST endpoints plus the
// websocket bridge that streams room changes to both seats.
func NewServer(st roomstore.Store, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	tickets := &auth.TicketConfig{
		Secret: []byte(cfg.TicketSecret),
		Issuer: "gridmatch",
		TTL:    cfg.RoomTTL,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(LoggerMiddleware(logger), gin.Recovery())

	rooms := NewRoomHandlers(st, tickets, logger)
	router.GET("/healthz", healthHandler)

	api := router.Group("/api")
	api.POST("/rooms", rooms.CreateRoom)
	api.GET("/rooms", rooms.ListRooms)
	api.GET("/rooms/:code", rooms.GetRoom)
	api.POST("/rooms/:code/join", rooms.JoinRoom)

	router.GET("/ws", gin.WrapH(NewWSHandler(st, tickets, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

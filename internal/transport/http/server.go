package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pipechat-server/internal/config"
	"github.com/vovakirdan/pipechat-server/internal/core"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub *core.Hub
	// Sessions is nil when the WebSocket transport is disabled.
	Sessions *Sessions
	Inbound  chan<- core.Command
	// Done is closed when the application is shutting down.
	Done <-chan struct{}
}

// NewServer builds an HTTP server with health, ops API and WebSocket routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(deps.Hub, deps.Sessions, logger)
	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms", api.ListRooms)
		apiGroup.GET("/rooms/:room", api.GetRoom)
		apiGroup.GET("/stats", api.Stats)
	}

	// The upgrade needs the raw ResponseWriter: gin marks the response as written before
	// the hijack, so /ws stays on the plain mux.
	mux := stdhttp.NewServeMux()
	if deps.Sessions != nil {
		mux.Handle("/ws", NewWSHandler(deps.Sessions, deps.Inbound, deps.Done, WSOptions{
			MaxLineBytes:       cfg.MaxLineBytes,
			RateLimitPerMinute: cfg.RateLimitPerMinute,
		}, logger))
	}
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}

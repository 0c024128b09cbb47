package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tabchat/internal/config"
	"tabchat/internal/tabs"
)

// NewServer builds the HTTP server exposing the tab lifecycle and the
// user intents (join, send, load-more) to the UI collaborator.
func NewServer(registry *tabs.Registry, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	h := NewTabHandlers(registry, logger)
	api := router.Group("/api")
	{
		api.POST("/tabs", h.OpenTab)
		api.GET("/tabs/:slot", h.TabState)
		api.DELETE("/tabs/:slot", h.CloseTab)
		api.POST("/tabs/:slot/join", h.Join)
		api.POST("/tabs/:slot/messages", h.Send)
		api.POST("/tabs/:slot/load-more", h.LoadMore)
		api.GET("/tabs/:slot/ws", h.Stream)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}

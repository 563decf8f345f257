package api

import (
	"github.com/gin-gonic/gin"

	"github.com/gsarma/sentinel/internal/metrics"
)

// RegisterRoutes mounts the login API on r. requireSession guards the routes
// that act on the signed-in user.
func RegisterRoutes(r *gin.Engine, h *Handler, requireSession gin.HandlerFunc, m *metrics.Metrics) {
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	auth := r.Group("/api/auth")
	{
		auth.GET("/providers", h.ListProviders)
		auth.GET("/:provider/login", h.Login)
		// Called by the provider; the state parameter authenticates it.
		auth.GET("/:provider/callback", h.Callback)
	}

	authed := auth.Group("", requireSession)
	{
		authed.POST("/link/:provider", h.Link)
		authed.DELETE("/:provider/unlink", h.Unlink)
		authed.PUT("/password", h.SetPassword)
		authed.GET("/me", h.Me)
	}
}

package router

import (
	"github.com/gin-gonic/gin"

	"seedrelay/internal/handler"
	"seedrelay/utils"
)

// InitRouter builds the control-channel routes. Every route requires the
// shared bearer secret.
func InitRouter(api *handler.API, secret string) *gin.Engine {
	r := gin.Default()

	group := r.Group("/api")
	group.Use(utils.BearerAuthMiddleware(secret))
	{
		group.GET("/ready", api.Ready)
		group.POST("/claim", api.Claim)
		group.POST("/confirm", api.Confirm)
	}
	return r
}

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/yoockh/yoobatch/internal/api/handlers"
	"github.com/yoockh/yoobatch/internal/api/middleware"
)

type Deps struct {
	Auth         middleware.JWTConfig
	Messages     *handlers.MessageHandler
	Runs         *handlers.RunHandler          // nil without Mongo
	Conversation *handlers.ConversationHandler // nil without Postgres
	WS           *handlers.WSHandler           // nil without Redis
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	v1 := auth.Group("/v1")
	v1.POST("/messages", d.Messages.Submit)
	v1.GET("/status", d.Messages.Status)
	v1.POST("/reset", d.Messages.Reset)

	if d.Runs != nil {
		v1.GET("/runs", d.Runs.List)
	}
	if d.Conversation != nil {
		v1.GET("/conversation", d.Conversation.List)
	}

	// WebSocket
	if d.WS != nil {
		auth.GET("/ws", d.WS.Chat)
	}
}

package api

import (
	"JobNest/internal/api/middleware"
	"JobNest/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		{
			// WS 握手鉴权走 query token，不经过 AuthMiddleware
			imGroup.GET("", group.WSHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/send", group.IMHandler.SendMessage)
				authGroup.POST("/conversation", group.IMHandler.CreateConversation)
				authGroup.GET("/history", group.IMHandler.GetChatHistory)
				authGroup.GET("/sync", group.IMHandler.SyncMessages)
				authGroup.GET("/list", group.IMHandler.GetConversationList)
				authGroup.POST("/read", group.IMHandler.MarkAsRead)
			}
		}

		notifyGroup := apiGroup.Group("/notify")
		notifyGroup.Use(middleware.AuthMiddleware())
		{
			notifyGroup.POST("", group.NotifyHandler.Create)
			notifyGroup.GET("/list", group.NotifyHandler.GetNotificationList)
			notifyGroup.GET("/unread", group.NotifyHandler.GetUnreadCount)
			notifyGroup.POST("/read", group.NotifyHandler.MarkRead)
			notifyGroup.POST("/read/all", group.NotifyHandler.MarkAllRead)
		}
	}

	return r
}

package conversation

import (
	"wardflow/controllers"
	"wardflow/middleware"
	"wardflow/pkg/chat"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Register registers conversation routes (protected)
func Register(g *gin.RouterGroup, db *gorm.DB, gateway chat.Gateway) {
	// Basic rate limiting on chat POST endpoints
	g.POST("/conversations", middleware.RateLimit(), controllers.CreateOrAddMessage(db, gateway))
	g.POST("/conversations/stream", middleware.RateLimit(), controllers.CreateOrAddMessageStream(db, gateway))
	g.GET("/conversations", controllers.ListConversations(db))
	g.GET("/conversations/:conversation_id", controllers.GetConversation(db))
	g.DELETE("/conversations/:conversation_id", controllers.DeleteConversation(db))
	// Delete all conversations for current user
	g.DELETE("/conversations", controllers.DeleteAllConversations(db))
}

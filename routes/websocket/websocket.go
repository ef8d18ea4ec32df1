package websocket

import (
	"wardflow/controllers"
	"wardflow/middleware"
	"wardflow/pkg/chat"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Register(r *gin.Engine, db *gorm.DB, gateway chat.Gateway) {
	r.GET("/ws/chat", middleware.RateLimit(), controllers.ChatWS(db, gateway))
}

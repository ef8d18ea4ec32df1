package routes

import (
	"net/http"

	"wardflow/middleware"
	"wardflow/pkg/chat"
	"wardflow/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	authRoutes "wardflow/routes/auth"
	convRoutes "wardflow/routes/conversation"
	leaveRoutes "wardflow/routes/leave"
	profileRoutes "wardflow/routes/profile"
	rosterRoutes "wardflow/routes/roster"
	websocketRoutes "wardflow/routes/websocket"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, gateway chat.Gateway, roster *services.RosterService) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "wardflow backend running"})
	})

	websocketRoutes.Register(r, db, gateway)
	authRoutes.RegisterPublic(r, db)

	protected := r.Group("/")
	protected.Use(middleware.AuthMiddleware())
	authRoutes.RegisterProtected(protected, db)
	profileRoutes.Register(protected, db)
	convRoutes.Register(protected, db, gateway)
	leaveRoutes.Register(protected, db)
	rosterRoutes.Register(protected, db, roster)
}

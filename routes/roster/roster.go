package roster

import (
	"wardflow/controllers"
	"wardflow/pkg/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Register registers roster routes (protected)
func Register(g *gin.RouterGroup, db *gorm.DB, svc *services.RosterService) {
	g.GET("/roster", controllers.GetRoster(db, svc))
}

package profile

import (
	"wardflow/controllers"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Register registers nurse profile routes (protected)
func Register(g *gin.RouterGroup, db *gorm.DB) {
	g.POST("/onboarding", controllers.Onboarding(db))
	g.GET("/profile", controllers.GetProfile(db))
	g.PUT("/profile", controllers.UpdateProfile(db))
}

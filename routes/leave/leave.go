package leave

import (
	"wardflow/controllers"
	"wardflow/middleware"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Register registers leave request routes (protected). The review
// endpoints sit behind the admin check.
func Register(g *gin.RouterGroup, db *gorm.DB) {
	g.POST("/leave-requests", controllers.CreateLeaveRequest(db))
	g.GET("/leave-requests", controllers.ListLeaveRequests(db))

	admin := g.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/leave-requests", controllers.AdminListLeaveRequests(db))
	admin.PUT("/leave-requests/:id", controllers.AdminReviewLeaveRequest(db))
}

package main

import (
	"log"
	"time"

	"wardflow/middleware"
	"wardflow/models"
	"wardflow/pkg/cache"
	"wardflow/pkg/chat"
	"wardflow/pkg/config"
	"wardflow/pkg/services"
	tokenstore "wardflow/pkg/token"
	"wardflow/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// config.Load happens in init of pkg/config

	db, err := gorm.Open(mysql.Open(config.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.NurseProfile{},
		&models.Conversation{},
		&models.Message{},
		&models.LeaveRequest{},
	); err != nil {
		log.Fatalf("failed migrate: %v", err)
	}

	// Redis-backed revocation store; falls back to memory when unreachable
	tokenstore.Init(config.RedisAddr, config.RedisPass)

	cache.SetMaxItems(config.CacheMaxItems)
	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
		config.UserConcurrencyLimit,
	)
	middleware.SetDuplicateTTL(time.Duration(config.DuplicateWindowSeconds) * time.Second)

	var gateway chat.Gateway
	if config.IsGeminiEnabled {
		gateway = services.NewGeminiGateway()
	} else {
		log.Println("[main] model gateway disabled, using local fallback")
		gateway = &services.LocalGateway{}
	}
	roster := services.NewRosterService()

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173", "http://127.0.0.1:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length", "X-Chat-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, db, gateway, roster)
	r.Run(":" + config.Port)
}

package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/config"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/handlers"
	"github.com/parleyhq/parley/internal/presence"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	mirror, err := presence.Connect(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect presence mirror: %v", err)
	}
	defer mirror.Close()
	if mirror.Enabled() {
		log.Println("Presence mirror connected")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	api := handlers.New(store, tokens, registry.New(), mirror, cfg.RTC)

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))
	api.Mount(router)

	log.Printf("Starting parley server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

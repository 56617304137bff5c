// api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"portfolio/api/database"
	"portfolio/api/handlers"
	"portfolio/api/middleware"
	"portfolio/api/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Initialize PostgreSQL Database (for the dashboard admin) ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	// --- Initialize ClickHouse Database (for tracking events) ---
	chClient, err := database.NewClickHouseDB()
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse database: %v", err)
	}
	defer chClient.Close()

	// --- Initialize Stores ---
	userStore := store.NewUserStore(dbClient.DB)
	eventStore := store.NewEventStore(chClient)

	// --- Initialize Handlers ---
	authHandlers := handlers.NewAuthHandlers(userStore)
	eventHandlers := handlers.NewEventHandlers(eventStore)
	statsHandlers := handlers.NewStatsHandlers(eventStore)

	r := gin.Default()

	r.Use(middleware.CORSMiddleware())

	api := r.Group("/api")
	{
		// Event ingestion (public: the portfolio frontend posts here)
		api.POST("/events", eventHandlers.RecordEvent)
		// Diagnostic read path for operational smoke-testing
		api.GET("/events", eventHandlers.RecentEvents)

		// Admin authentication
		api.POST("/login", authHandlers.Login)
		api.POST("/logout", authHandlers.Logout)

		// Dashboard stats (require a valid JWT token)
		statsGroup := api.Group("/stats")
		statsGroup.Use(middleware.AuthRequired())
		{
			statsGroup.GET("/event-counts", statsHandlers.GetEventCountsOverTime)
			statsGroup.GET("/top-pages", statsHandlers.GetTopPages)
			statsGroup.GET("/top-referrers", statsHandlers.GetTopReferrers)
			statsGroup.GET("/average-engagement", statsHandlers.GetAverageEngagement)
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Analytics API server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Analytics API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting.")
}

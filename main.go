package main

import (
	"log"
	"net/http"

	"github.com/docsift/DocSift/channel"
	controller "github.com/docsift/DocSift/controller"
	"github.com/docsift/DocSift/initializers"
	middleware "github.com/docsift/DocSift/middleware"
	service "github.com/docsift/DocSift/service"

	"github.com/gin-gonic/gin"
)

func init() {
	if err := initializers.LoadEnv(); err != nil {
		log.Printf("No .env file loaded: %s", err)
	}
	if err := initializers.ConnectDB(); err != nil {
		log.Fatalf("[CRITICAL] Failed to initialize database connection: %s", err)
	}
	if err := initializers.Migrate(); err != nil {
		log.Fatalf("[CRITICAL] Failed to run database migrations: %s", err)
	}
}

func main() {
	hub := channel.NewHub()

	// The oracle implementation is chosen exactly once here; nothing past
	// this point inspects the environment to decide between variants.
	oracle := service.NewOracleFromEnv()

	docService, err := service.NewDocumentService(initializers.DB)
	if err != nil {
		log.Fatalf("Failed to initialize document service: %s", err)
	}
	reviewService := service.NewReviewService(initializers.DB, hub)
	extractionService := service.NewExtractionService(initializers.DB, oracle, hub, reviewService)

	reviewController := controller.NewReviewController(reviewService, docService, extractionService, hub)

	router := gin.Default()
	router.Use(middleware.CORSMiddleware())

	// Global rate limiter for most routes
	router.Use(middleware.GlobalRateLimiter.Limit())

	// Mutations and extraction runs get stricter rate limiting
	router.POST("/reviews",
		middleware.StrictRateLimiter.Limit(),
		reviewController.CreateReview)
	router.POST("/documents",
		middleware.StrictRateLimiter.Limit(),
		reviewController.IngestDocument)
	router.POST("/reviews/:id/documents",
		middleware.StrictRateLimiter.Limit(),
		reviewController.AttachDocuments)
	router.POST("/reviews/:id/columns",
		middleware.StrictRateLimiter.Limit(),
		reviewController.CreateColumn)
	router.POST("/reviews/:id/extract",
		middleware.StrictRateLimiter.Limit(),
		reviewController.RunExtraction)

	// Read endpoints
	router.GET("/reviews/:id", reviewController.GetReview)
	router.POST("/highlight", reviewController.Highlight)
	router.GET("/search", reviewController.SearchDocuments)

	// Progress channel subscription
	router.GET("/ws/reviews/:id", reviewController.ServeProgress)

	// Healthcheck endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.Run(":8080")
}

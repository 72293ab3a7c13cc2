package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"catalogsync/internal/database"
)

// NewRouter builds the read API over store.
func NewRouter(store database.StorageBackend, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	SetupRoutes(router, store, logger)
	return router
}

func SetupRoutes(router *gin.Engine, store database.StorageBackend, logger *logrus.Logger) {
	handler := NewHandler(store, logger)

	router.GET("/healthz", handler.Health)

	api := router.Group("/api")
	{
		api.GET("/runs", handler.GetRuns)
		api.GET("/providers/:provider/buildings", handler.GetBuildings)
		api.GET("/providers/:provider/buildings/:id", handler.GetBuilding)
		api.GET("/providers/:provider/buildings/:id/aggregate", handler.GetBuildingAggregate)
	}
}

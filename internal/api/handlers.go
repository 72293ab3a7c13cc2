package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"catalogsync/config"
	"catalogsync/internal/aggregate"
	"catalogsync/internal/database"
	"catalogsync/internal/models"
	"catalogsync/internal/reconcile"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500
)

type Handler struct {
	store  database.StorageBackend
	logger *logrus.Logger
}

func NewHandler(store database.StorageBackend, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetRuns lists the most recent runs, optionally for one provider.
func (h *Handler) GetRuns(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRunsLimit)))
	if err != nil || limit <= 0 {
		limit = defaultRunsLimit
	}
	limit = min(limit, maxRunsLimit)

	provider := c.Query("provider")
	if provider != "" {
		provider = config.NormalizeProvider(provider)
	}

	runs, err := h.store.ListRuns(c.Request.Context(), provider, limit)
	if err != nil {
		h.logger.WithError(err).WithField("provider", provider).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list runs"})
		return
	}
	if runs == nil {
		runs = []models.IngestRun{}
	}

	c.JSON(http.StatusOK, runs)
}

// GetBuildings returns the stored rollup of every building of a provider.
func (h *Handler) GetBuildings(c *gin.Context) {
	provider := config.NormalizeProvider(c.Param("provider"))

	rows, err := h.store.ListAggregates(c.Request.Context(), provider)
	if err != nil {
		h.logger.WithError(err).WithField("provider", provider).Error("Failed to list buildings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list buildings"})
		return
	}
	if rows == nil {
		rows = []database.AggregateRow{}
	}

	c.JSON(http.StatusOK, rows)
}

func (h *Handler) GetBuilding(c *gin.Context) {
	building, ok := h.loadBuilding(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, building)
}

// GetBuildingAggregate derives the rollup from the current unit state.
func (h *Handler) GetBuildingAggregate(c *gin.Context) {
	building, ok := h.loadBuilding(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, aggregate.Derive(building))
}

// loadBuilding writes the error response itself and reports whether the
// caller should continue.
func (h *Handler) loadBuilding(c *gin.Context) (models.Building, bool) {
	provider := config.NormalizeProvider(c.Param("provider"))
	id := c.Param("id")
	log := h.logger.WithFields(logrus.Fields{
		"provider":    provider,
		"building_id": id,
	})

	row, units, err := h.store.FindBuilding(c.Request.Context(), provider, id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Building not found"})
		return models.Building{}, false
	}
	if err != nil {
		log.WithError(err).Error("Failed to get building")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get building"})
		return models.Building{}, false
	}

	building, err := reconcile.FromRows(row, units)
	if err != nil {
		log.WithError(err).Error("Failed to decode building")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to decode building"})
		return models.Building{}, false
	}
	return building, true
}

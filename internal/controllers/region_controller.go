package controllers

import (
	"net/http"

	"github.com/fleetbridge/backend/internal/middleware"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RegionController struct {
	db *gorm.DB
}

func NewRegionController(db *gorm.DB) *RegionController {
	return &RegionController{db: db}
}

type CreateRegionRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Priority   int    `json:"priority"`
	Enabled    *bool  `json:"enabled"`
}

type UpdateRegionRequest struct {
	Priority *int  `json:"priority"`
	Enabled  *bool `json:"enabled"`
}

type UpdateRegionHealthRequest struct {
	HealthStatus models.RegionHealth `json:"healthStatus" binding:"required"`
}

func (rc *RegionController) CreateRegion(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	var req CreateRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	region := models.Region{
		TenantID:     tenantID,
		Identifier:   req.Identifier,
		Priority:     req.Priority,
		Enabled:      true,
		HealthStatus: models.RegionHealthy,
	}
	if req.Enabled != nil {
		region.Enabled = *req.Enabled
	}

	if err := rc.db.Create(&region).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Region identifier already in use"})
		return
	}
	c.JSON(http.StatusCreated, region)
}

func (rc *RegionController) ListRegions(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	var regions []models.Region
	if err := rc.db.Where("tenant_id = ?", tenantID).
		Order("priority DESC, identifier ASC").Find(&regions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list regions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": regions, "count": len(regions)})
}

func (rc *RegionController) GetRegion(c *gin.Context) {
	region, ok := rc.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, region)
}

func (rc *RegionController) UpdateRegion(c *gin.Context) {
	region, ok := rc.load(c)
	if !ok {
		return
	}

	var req UpdateRegionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.Enabled != nil {
		updates["enabled"] = *req.Enabled
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, region)
		return
	}

	if err := rc.db.Model(region).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update region"})
		return
	}
	c.JSON(http.StatusOK, region)
}

// UpdateHealth is called by the external health monitor. Changing health never
// touches jobs already dispatched to the region.
func (rc *RegionController) UpdateHealth(c *gin.Context) {
	region, ok := rc.load(c)
	if !ok {
		return
	}

	var req UpdateRegionHealthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.HealthStatus {
	case models.RegionHealthy, models.RegionDegraded, models.RegionOffline:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown health status"})
		return
	}

	if err := rc.db.Model(region).Update("health_status", req.HealthStatus).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update health"})
		return
	}
	c.JSON(http.StatusOK, region)
}

func (rc *RegionController) DeleteRegion(c *gin.Context) {
	region, ok := rc.load(c)
	if !ok {
		return
	}

	// Devices keep their region reference; resolution treats a missing region
	// like an unrouteable one and falls back to the default pool.
	if err := rc.db.Delete(region).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete region"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Region deleted"})
}

func (rc *RegionController) load(c *gin.Context) (*models.Region, bool) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return nil, false
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid region id"})
		return nil, false
	}

	var region models.Region
	if err := rc.db.Where("tenant_id = ?", tenantID).First(&region, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Region not found"})
		return nil, false
	}
	return &region, true
}

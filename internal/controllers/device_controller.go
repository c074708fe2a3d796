package controllers

import (
	"net/http"

	"github.com/fleetbridge/backend/internal/middleware"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/secrets"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DeviceController struct {
	db  *gorm.DB
	box *secrets.Box
}

func NewDeviceController(db *gorm.DB, box *secrets.Box) *DeviceController {
	return &DeviceController{db: db, box: box}
}

type CreateDeviceRequest struct {
	Name         string   `json:"name" binding:"required"`
	Address      string   `json:"address" binding:"required"`
	Platform     string   `json:"platform"`
	Role         string   `json:"role"`
	Site         string   `json:"site"`
	Tags         []string `json:"tags"`
	RegionID     *uint    `json:"regionId"`
	CredentialID uint     `json:"credentialId" binding:"required"`
}

type UpdateDeviceRequest struct {
	Name         *string   `json:"name"`
	Address      *string   `json:"address"`
	Platform     *string   `json:"platform"`
	Role         *string   `json:"role"`
	Site         *string   `json:"site"`
	Tags         *[]string `json:"tags"`
	RegionID     *uint     `json:"regionId"`
	CredentialID *uint     `json:"credentialId"`
}

type CreateCredentialRequest struct {
	Name     string `json:"name" binding:"required"`
	Username string `json:"username" binding:"required"`
	Secret   string `json:"secret" binding:"required"`
	Port     int    `json:"port"`
}

func (dc *DeviceController) CreateDevice(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	var req CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Cross-tenant references are rejected, not silently reassigned.
	var cred models.Credential
	if err := dc.db.Where("tenant_id = ?", tenantID).First(&cred, req.CredentialID).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown credential"})
		return
	}
	if req.RegionID != nil {
		var region models.Region
		if err := dc.db.Where("tenant_id = ?", tenantID).First(&region, *req.RegionID).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown region"})
			return
		}
	}

	device := models.Device{
		TenantID:     tenantID,
		Name:         req.Name,
		Address:      req.Address,
		Platform:     req.Platform,
		Role:         req.Role,
		Site:         req.Site,
		Tags:         req.Tags,
		RegionID:     req.RegionID,
		CredentialID: req.CredentialID,
	}
	if err := dc.db.Create(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create device"})
		return
	}
	c.JSON(http.StatusCreated, device)
}

func (dc *DeviceController) ListDevices(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	query := dc.db.Where("tenant_id = ?", tenantID)
	if site := c.Query("site"); site != "" {
		query = query.Where("site = ?", site)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}
	if platform := c.Query("platform"); platform != "" {
		query = query.Where("platform = ?", platform)
	}

	var devices []models.Device
	if err := query.Order("id ASC").Find(&devices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

func (dc *DeviceController) GetDevice(c *gin.Context) {
	device, ok := dc.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, device)
}

func (dc *DeviceController) UpdateDevice(c *gin.Context) {
	tenantID, _ := middleware.TenantID(c)
	device, ok := dc.load(c)
	if !ok {
		return
	}

	var req UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Address != nil {
		updates["address"] = *req.Address
	}
	if req.Platform != nil {
		updates["platform"] = *req.Platform
	}
	if req.Role != nil {
		updates["role"] = *req.Role
	}
	if req.Site != nil {
		updates["site"] = *req.Site
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if req.RegionID != nil {
		var region models.Region
		if err := dc.db.Where("tenant_id = ?", tenantID).First(&region, *req.RegionID).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown region"})
			return
		}
		updates["region_id"] = *req.RegionID
	}
	if req.CredentialID != nil {
		var cred models.Credential
		if err := dc.db.Where("tenant_id = ?", tenantID).First(&cred, *req.CredentialID).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown credential"})
			return
		}
		updates["credential_id"] = *req.CredentialID
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, device)
		return
	}

	if err := dc.db.Model(device).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update device"})
		return
	}
	c.JSON(http.StatusOK, device)
}

func (dc *DeviceController) DeleteDevice(c *gin.Context) {
	device, ok := dc.load(c)
	if !ok {
		return
	}
	if err := dc.db.Delete(device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete device"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Device deleted"})
}

// CreateCredential seals the secret before it touches the database. The
// plaintext exists only in this request's memory.
func (dc *DeviceController) CreateCredential(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sealed, err := dc.box.Seal(req.Secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to seal secret"})
		return
	}

	cred := models.Credential{
		TenantID:     tenantID,
		Name:         req.Name,
		Username:     req.Username,
		SecretSealed: sealed,
		Port:         req.Port,
	}
	if cred.Port == 0 {
		cred.Port = 22
	}
	if err := dc.db.Create(&cred).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create credential"})
		return
	}
	c.JSON(http.StatusCreated, cred)
}

func (dc *DeviceController) ListCredentials(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}

	var creds []models.Credential
	if err := dc.db.Where("tenant_id = ?", tenantID).Order("id ASC").Find(&creds).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds, "count": len(creds)})
}

func (dc *DeviceController) DeleteCredential(c *gin.Context) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid credential id"})
		return
	}

	var cred models.Credential
	if err := dc.db.Where("tenant_id = ?", tenantID).First(&cred, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
		return
	}

	var inUse int64
	dc.db.Model(&models.Device{}).Where("credential_id = ?", cred.ID).Count(&inUse)
	if inUse > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Credential is referenced by devices"})
		return
	}

	if err := dc.db.Delete(&cred).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete credential"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Credential deleted"})
}

func (dc *DeviceController) load(c *gin.Context) (*models.Device, bool) {
	tenantID, ok := middleware.TenantID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Tenant not resolved"})
		return nil, false
	}
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device id"})
		return nil, false
	}

	var device models.Device
	if err := dc.db.Where("tenant_id = ?", tenantID).First(&device, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return nil, false
	}
	return &device, true
}

package models

import (
	"time"

	"gorm.io/gorm"
)

type RegionHealth string

const (
	RegionHealthy  RegionHealth = "healthy"
	RegionDegraded RegionHealth = "degraded"
	RegionOffline  RegionHealth = "offline"
)

// Region names a worker-pool routing target. Health is maintained by an
// external monitor; devices and jobs reference regions but never own them.
type Region struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	TenantID     uint           `json:"tenantId" gorm:"not null;uniqueIndex:idx_tenant_region,priority:1"`
	Identifier   string         `json:"identifier" gorm:"not null;uniqueIndex:idx_tenant_region,priority:2"`
	Priority     int            `json:"priority" gorm:"default:0"`
	Enabled      bool           `json:"enabled" gorm:"default:true"`
	HealthStatus RegionHealth   `json:"healthStatus" gorm:"not null;default:'healthy'"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Region) TableName() string {
	return "regions"
}

// Routable reports whether the region may receive new dispatches.
func (r Region) Routable() bool {
	return r.Enabled && r.HealthStatus != RegionOffline
}

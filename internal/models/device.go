package models

import (
	"time"

	"gorm.io/gorm"
)

// Device is one managed network element in the tenant's directory.
type Device struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	TenantID     uint           `json:"tenantId" gorm:"not null;index"`
	Name         string         `json:"name" gorm:"not null"`
	Address      string         `json:"address" gorm:"not null"`
	Platform     string         `json:"platform"`
	Role         string         `json:"role"`
	Site         string         `json:"site"`
	Tags         []string       `json:"tags,omitempty" gorm:"type:jsonb;serializer:json"`
	RegionID     *uint          `json:"regionId"`
	CredentialID uint           `json:"credentialId" gorm:"not null"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships (optional, not DB constraints)
	Region     *Region     `json:"region,omitempty" gorm:"foreignKey:RegionID;references:ID"`
	Credential *Credential `json:"-" gorm:"foreignKey:CredentialID;references:ID"`
}

func (Device) TableName() string {
	return "devices"
}

// Credential holds connection secrets for devices. SecretSealed is a
// base64 secretbox ciphertext; the plaintext never reaches the API surface.
type Credential struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	TenantID     uint           `json:"tenantId" gorm:"not null;index"`
	Name         string         `json:"name" gorm:"not null"`
	Username     string         `json:"username" gorm:"not null"`
	SecretSealed string         `json:"-" gorm:"not null"`
	Port         int            `json:"port" gorm:"default:22"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

func (Credential) TableName() string {
	return "credentials"
}

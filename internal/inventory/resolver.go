package inventory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/secrets"
	"gorm.io/gorm"
)

// ErrResolution means the device directory could not be consulted at all.
// The job fails with this reason; no partial host list is ever returned.
var ErrResolution = errors.New("device directory unavailable")

// HostDescriptor is one connection-ready target. The secret is decrypted at
// resolution time and only ever lives in worker memory.
type HostDescriptor struct {
	DeviceID uint
	Name     string
	Address  string
	Port     int
	Platform string
	Role     string
	Site     string
	RegionID *uint
	Username string
	Secret   string
}

// Resolver turns a declarative target filter into a concrete host list.
type Resolver struct {
	db  *gorm.DB
	box *secrets.Box
}

func NewResolver(db *gorm.DB, box *secrets.Box) *Resolver {
	return &Resolver{db: db, box: box}
}

// Resolve applies the filter within the tenant's directory. Every criterion
// is conjunctive, device ids belonging to other tenants silently drop out,
// and the result is ordered by device id so identical filters against an
// unchanged inventory always resolve identically. An empty result is valid.
func (r *Resolver) Resolve(tenantID uint, filter models.TargetFilter) ([]HostDescriptor, error) {
	q := r.db.Preload("Credential").Where("tenant_id = ?", tenantID)
	if len(filter.DeviceIDs) > 0 {
		q = q.Where("id IN ?", filter.DeviceIDs)
	}
	if filter.Site != "" {
		q = q.Where("site = ?", filter.Site)
	}
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Platform != "" {
		q = q.Where("platform = ?", filter.Platform)
	}

	var devices []models.Device
	if err := q.Order("id ASC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolution, err)
	}

	// Tag matching is done here rather than in SQL so the jsonb column
	// behaves the same across database backends.
	hosts := make([]HostDescriptor, 0, len(devices))
	for _, d := range devices {
		if !hasAllTags(d.Tags, filter.Tags) {
			continue
		}
		host := HostDescriptor{
			DeviceID: d.ID,
			Name:     d.Name,
			Address:  d.Address,
			Platform: d.Platform,
			Role:     d.Role,
			Site:     d.Site,
			RegionID: d.RegionID,
		}
		if d.Credential != nil {
			secret, err := r.box.Open(d.Credential.SecretSealed)
			if err != nil {
				return nil, fmt.Errorf("%w: credential %d unreadable: %v", ErrResolution, d.CredentialID, err)
			}
			host.Username = d.Credential.Username
			host.Secret = secret
			host.Port = d.Credential.Port
		}
		hosts = append(hosts, host)
	}

	sort.Slice(hosts, func(i, j int) bool { return hosts[i].DeviceID < hosts[j].DeviceID })
	return hosts, nil
}

func hasAllTags(deviceTags, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	present := make(map[string]bool, len(deviceTags))
	for _, t := range deviceTags {
		present[t] = true
	}
	for _, t := range wanted {
		if !present[t] {
			return false
		}
	}
	return true
}

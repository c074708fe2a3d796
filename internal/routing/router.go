package routing

import (
	"fmt"

	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/models"
	"gorm.io/gorm"
)

// Select picks the worker pool for a set of resolved hosts. Among the
// regions the hosts reference, only enabled, non-offline ones are candidates;
// the highest priority wins and ties break on the lexicographically lowest
// identifier. A nil result means the tenant-independent default pool.
func Select(regions []models.Region, referenced map[uint]struct{}) *models.Region {
	var chosen *models.Region
	for i := range regions {
		r := &regions[i]
		if _, ok := referenced[r.ID]; !ok {
			continue
		}
		if !r.Routable() {
			continue
		}
		if chosen == nil ||
			r.Priority > chosen.Priority ||
			(r.Priority == chosen.Priority && r.Identifier < chosen.Identifier) {
			chosen = r
		}
	}
	return chosen
}

// Router loads a tenant's regions and applies Select. The decision is made
// once, at dispatch time; a region going offline mid-execution never
// re-routes an in-flight job.
type Router struct {
	db *gorm.DB
}

func NewRouter(db *gorm.DB) *Router {
	return &Router{db: db}
}

func (r *Router) SelectForHosts(tenantID uint, hosts []inventory.HostDescriptor) (*models.Region, error) {
	referenced := make(map[uint]struct{})
	for _, h := range hosts {
		if h.RegionID != nil {
			referenced[*h.RegionID] = struct{}{}
		}
	}
	if len(referenced) == 0 {
		return nil, nil
	}

	var regions []models.Region
	if err := r.db.Where("tenant_id = ?", tenantID).Find(&regions).Error; err != nil {
		return nil, fmt.Errorf("failed to load regions: %w", err)
	}
	return Select(regions, referenced), nil
}

package routing

import (
	"testing"

	"github.com/fleetbridge/backend/internal/models"
)

func region(id uint, identifier string, priority int, enabled bool, health models.RegionHealth) models.Region {
	return models.Region{
		ID:           id,
		TenantID:     1,
		Identifier:   identifier,
		Priority:     priority,
		Enabled:      enabled,
		HealthStatus: health,
	}
}

func refs(ids ...uint) map[uint]struct{} {
	m := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestSelectHighestPriorityWins(t *testing.T) {
	regions := []models.Region{
		region(1, "us-east", 5, true, models.RegionHealthy),
		region(2, "eu-west", 10, true, models.RegionHealthy),
	}

	chosen := Select(regions, refs(1, 2))
	if chosen == nil || chosen.Identifier != "eu-west" {
		t.Fatalf("expected eu-west, got %+v", chosen)
	}
}

func TestSelectTieBreaksOnIdentifier(t *testing.T) {
	regions := []models.Region{
		region(1, "us-west", 5, true, models.RegionHealthy),
		region(2, "ap-south", 5, true, models.RegionHealthy),
		region(3, "eu-west", 5, true, models.RegionHealthy),
	}

	chosen := Select(regions, refs(1, 2, 3))
	if chosen == nil || chosen.Identifier != "ap-south" {
		t.Fatalf("expected ap-south on tie, got %+v", chosen)
	}
}

func TestSelectSkipsUnroutable(t *testing.T) {
	tests := []struct {
		name    string
		regions []models.Region
		want    string
	}{
		{
			"disabled region loses despite priority",
			[]models.Region{
				region(1, "us-east", 10, false, models.RegionHealthy),
				region(2, "eu-west", 1, true, models.RegionHealthy),
			},
			"eu-west",
		},
		{
			"offline region loses despite priority",
			[]models.Region{
				region(1, "us-east", 10, true, models.RegionOffline),
				region(2, "eu-west", 1, true, models.RegionHealthy),
			},
			"eu-west",
		},
		{
			"degraded still routable",
			[]models.Region{
				region(1, "us-east", 10, true, models.RegionDegraded),
				region(2, "eu-west", 1, true, models.RegionHealthy),
			},
			"us-east",
		},
	}

	for _, test := range tests {
		chosen := Select(test.regions, refs(1, 2))
		if chosen == nil || chosen.Identifier != test.want {
			t.Errorf("%s: expected %s, got %+v", test.name, test.want, chosen)
		}
	}
}

func TestSelectIgnoresUnreferencedRegions(t *testing.T) {
	regions := []models.Region{
		region(1, "us-east", 10, true, models.RegionHealthy),
		region(2, "eu-west", 1, true, models.RegionHealthy),
	}

	// Only eu-west hosts are in the target set; us-east must not win.
	chosen := Select(regions, refs(2))
	if chosen == nil || chosen.Identifier != "eu-west" {
		t.Fatalf("expected eu-west, got %+v", chosen)
	}
}

func TestSelectNothingRoutableMeansDefaultPool(t *testing.T) {
	regions := []models.Region{
		region(1, "us-east", 10, false, models.RegionHealthy),
		region(2, "eu-west", 1, true, models.RegionOffline),
	}

	if chosen := Select(regions, refs(1, 2)); chosen != nil {
		t.Fatalf("expected nil (default pool), got %+v", chosen)
	}
}

func TestSelectEmptyReference(t *testing.T) {
	regions := []models.Region{region(1, "us-east", 10, true, models.RegionHealthy)}
	if chosen := Select(regions, refs()); chosen != nil {
		t.Fatalf("expected nil for regionless hosts, got %+v", chosen)
	}
}

package matching

import (
	"context"

	"github.com/raktlink/platform/internal/shared/types"
)

// DefaultFanOutCap bounds how many donors a single request may notify
const DefaultFanOutCap = 200

// Candidate is a donor selected for notification
type Candidate struct {
	ID         types.ID
	Name       string
	BloodGroup BloodGroup
	Location   types.GeoPoint
	DistanceKm float64
}

// DonorFinder queries the donor store for eligible donors of the given
// groups within radiusKm of center, nearest first, at most limit rows
type DonorFinder interface {
	FindEligibleDonors(ctx context.Context, groups []BloodGroup, center types.GeoPoint, radiusKm float64, limit int) ([]Candidate, error)
}

// Locator selects the donors to notify for a blood request
type Locator struct {
	finder    DonorFinder
	fanOutCap int
}

// NewLocator creates a locator with the given fan-out cap; a cap of zero
// or less falls back to the default
func NewLocator(finder DonorFinder, fanOutCap int) *Locator {
	if fanOutCap <= 0 {
		fanOutCap = DefaultFanOutCap
	}
	return &Locator{finder: finder, fanOutCap: fanOutCap}
}

// Locate returns eligible compatible donors within radiusKm of center,
// nearest first, capped at the fan-out limit. An unknown recipient group
// has no compatible donors and returns an empty result without querying.
func (l *Locator) Locate(ctx context.Context, recipient BloodGroup, center types.GeoPoint, radiusKm float64) ([]Candidate, error) {
	groups := CompatibleDonorGroups(recipient)
	if len(groups) == 0 {
		return nil, nil
	}

	return l.finder.FindEligibleDonors(ctx, groups, center, radiusKm, l.fanOutCap)
}

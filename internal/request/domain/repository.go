package domain

import (
	"context"
	"time"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/shared/types"
)

// GeoFilter narrows a listing to requests near a point
type GeoFilter struct {
	Center   types.GeoPoint
	RadiusKm float64
}

// ListFilter defines filters for listing blood requests
type ListFilter struct {
	Status      *Status
	BloodGroup  *matching.BloodGroup
	RequesterID *types.ID
	Near        *GeoFilter
	Limit       int
	Offset      int
}

// MutateFunc applies a domain operation to a locked aggregate. The
// repository persists the aggregate afterwards even when the function
// returns an error, so lazy expiry flips survive rejected operations.
type MutateFunc func(req *BloodRequest) error

// Repository provides persistence for blood requests
type Repository interface {
	Create(ctx context.Context, req *BloodRequest) error

	// Get loads a request, persisting a lazy expiry flip if due
	Get(ctx context.Context, id types.ID) (*BloodRequest, error)

	List(ctx context.Context, filter ListFilter) ([]*BloodRequest, error)

	// Mutate loads the request under a row lock, applies fn and
	// persists the result in one transaction. Concurrent responses
	// serialize here; the accept quota cannot be oversubscribed.
	Mutate(ctx context.Context, id types.ID, fn MutateFunc) (*BloodRequest, error)

	// CompleteDonation marks the donor's donation completed and, in
	// the same transaction, appends to the donation history and
	// refreshes the donor's last_donation and eligibility flag.
	CompleteDonation(ctx context.Context, id, donorID types.ID, now time.Time) (*BloodRequest, error)
}

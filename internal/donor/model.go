package donor

import (
	"time"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/shared/types"
)

// EligibilityWindow is the minimum time between donations
const EligibilityWindow = 90 * 24 * time.Hour

// Donor is a platform user with a donor profile. Identity and
// credentials live in the external provider; this record holds the
// medical and location attributes matching needs.
type Donor struct {
	ID           types.ID            `json:"id"`
	Name         string              `json:"name"`
	Phone        string              `json:"phone"`
	BloodGroup   matching.BloodGroup `json:"bloodGroup"`
	IsDonor      bool                `json:"isDonor"`
	IsEligible   bool                `json:"isEligible"`
	LastDonation *time.Time          `json:"lastDonation,omitempty"`
	Location     types.GeoPoint      `json:"location"`
	Address      string              `json:"address"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// EligibleToDonate recomputes eligibility from the last donation date.
// The stored IsEligible flag is a cache; this computation is the source
// of truth.
func (d *Donor) EligibleToDonate(now time.Time) bool {
	if d.LastDonation == nil {
		return true
	}
	return d.LastDonation.Before(now.Add(-EligibilityWindow))
}

// NextEligibleAt returns when the donor becomes eligible again, or nil
// if already eligible
func (d *Donor) NextEligibleAt(now time.Time) *time.Time {
	if d.EligibleToDonate(now) {
		return nil
	}
	next := d.LastDonation.Add(EligibilityWindow)
	return &next
}

// Donation is one completed donation in a donor's history
type Donation struct {
	ID         types.ID            `json:"id"`
	DonorID    types.ID            `json:"donorId"`
	RequestID  types.ID            `json:"requestId"`
	BloodGroup matching.BloodGroup `json:"bloodGroup"`
	DonatedAt  time.Time           `json:"donatedAt"`
}

// RequestRef is a read model of a blood request raised by the user,
// shown in their request history
type RequestRef struct {
	ID          types.ID            `json:"id"`
	PatientName string              `json:"patientName"`
	BloodGroup  matching.BloodGroup `json:"bloodGroup"`
	Units       int                 `json:"units"`
	Urgency     string              `json:"urgency"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Stats summarizes a donor's giving history
type Stats struct {
	TotalDonations   int        `json:"totalDonations"`
	DonationsPerYear float64    `json:"donationsPerYear"`
	LastDonation     *time.Time `json:"lastDonation,omitempty"`
	EligibleToDonate bool       `json:"eligibleToDonate"`
	NextEligibleAt   *time.Time `json:"nextEligibleAt,omitempty"`
}

// ComputeStats derives donor statistics from the profile and history.
// Donation frequency is measured against years since the first donation,
// with a floor of one year.
func ComputeStats(d *Donor, donations []Donation, now time.Time) Stats {
	s := Stats{
		TotalDonations:   len(donations),
		LastDonation:     d.LastDonation,
		EligibleToDonate: d.EligibleToDonate(now),
		NextEligibleAt:   d.NextEligibleAt(now),
	}

	if len(donations) == 0 {
		return s
	}

	first := donations[0].DonatedAt
	for _, dn := range donations {
		if dn.DonatedAt.Before(first) {
			first = dn.DonatedAt
		}
	}

	years := now.Sub(first).Hours() / (365 * 24)
	if years < 1 {
		years = 1
	}
	s.DonationsPerYear = float64(len(donations)) / years

	return s
}

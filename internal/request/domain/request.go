package domain

import (
	"time"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

// Status defines the lifecycle status of a blood request
type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transitions are allowed from
// the status. Fulfilled is not terminal: completions may still arrive.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Urgency defines how urgently blood is needed
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// urgencyTTL maps urgency to the active window of a request
var urgencyTTL = map[Urgency]time.Duration{
	UrgencyCritical: 3 * time.Hour,
	UrgencyHigh:     6 * time.Hour,
	UrgencyMedium:   12 * time.Hour,
	UrgencyLow:      24 * time.Hour,
}

// urgencyRadiusKm maps urgency to the donor search radius
var urgencyRadiusKm = map[Urgency]float64{
	UrgencyCritical: 10,
	UrgencyHigh:     7,
	UrgencyMedium:   5,
	UrgencyLow:      3,
}

// IsValid reports whether the urgency is a known level
func (u Urgency) IsValid() bool {
	_, ok := urgencyTTL[u]
	return ok
}

// TTL returns how long a request of this urgency stays active
func (u Urgency) TTL() time.Duration {
	return urgencyTTL[u]
}

// RadiusKm returns the donor search radius for this urgency
func (u Urgency) RadiusKm() float64 {
	return urgencyRadiusKm[u]
}

// ResponseStatus defines a donor's standing on a request
type ResponseStatus string

const (
	ResponseAccepted  ResponseStatus = "accepted"
	ResponseDeclined  ResponseStatus = "declined"
	ResponseCompleted ResponseStatus = "completed"
)

// DonorEntry records one donor's latest response to a request.
// RespondedAt keeps the time of the accept or decline; CompletedAt is
// set separately when the donation is confirmed.
type DonorEntry struct {
	DonorID     types.ID       `json:"donorId"`
	Status      ResponseStatus `json:"status"`
	RespondedAt time.Time      `json:"respondedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// Hospital is where the blood is needed
type Hospital struct {
	Name     string         `json:"name"`
	Address  string         `json:"address"`
	Location types.GeoPoint `json:"location"`
}

// Event types emitted by the aggregate
const (
	EventCreated       = "request.created"
	EventStatusChanged = "request.status_changed"
	EventResponded     = "request.responded"
	EventCompleted     = "request.completed"
	EventCancelled     = "request.cancelled"
	EventUpdated       = "request.updated"
)

// Event is a domain event recorded by the aggregate for publishing
type Event struct {
	Type      string         `json:"type"`
	RequestID types.ID       `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	MinUnits = 1
	MaxUnits = 10
)

// BloodRequest is the aggregate root for a blood request
type BloodRequest struct {
	ID              types.ID            `json:"id"`
	RequesterID     types.ID            `json:"requesterId"`
	PatientName     string              `json:"patientName"`
	BloodGroup      matching.BloodGroup `json:"bloodGroup"`
	Units           int                 `json:"units"`
	Urgency         Urgency             `json:"urgency"`
	Reason          string              `json:"reason"`
	AdditionalNotes string              `json:"additionalNotes,omitempty"`
	Hospital        Hospital            `json:"hospital"`
	Status          Status              `json:"status"`
	SearchRadiusKm  float64             `json:"searchRadiusKm"`

	// NotifiedDonors is the snapshot of donors notified at creation.
	// It never changes afterwards, even if donors move or lose
	// eligibility.
	NotifiedDonors []types.ID `json:"notifiedDonors"`

	// Donors holds the latest response per donor
	Donors []DonorEntry `json:"donors"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Domain events (not persisted, drained for publishing)
	domainEvents []Event
}

// NewBloodRequest creates a new blood request with validation. Expiry
// and search radius are derived from urgency at creation time.
func NewBloodRequest(
	requesterID types.ID,
	patientName string,
	bloodGroup matching.BloodGroup,
	units int,
	urgency Urgency,
	reason, additionalNotes string,
	hospital Hospital,
	now time.Time,
) (*BloodRequest, error) {
	details := map[string]string{}
	if requesterID.IsZero() {
		details["requesterId"] = "required"
	}
	if patientName == "" {
		details["patientName"] = "required"
	}
	if !bloodGroup.IsValid() {
		details["bloodGroup"] = "must be one of the eight canonical groups"
	}
	if units < MinUnits || units > MaxUnits {
		details["units"] = "must be between 1 and 10"
	}
	if !urgency.IsValid() {
		details["urgency"] = "must be critical, high, medium or low"
	}
	if reason == "" {
		details["reason"] = "required"
	}
	if hospital.Name == "" {
		details["hospital.name"] = "required"
	}
	if err := hospital.Location.Validate(); err != nil {
		details["hospital.location"] = err.Error()
	}
	if len(details) > 0 {
		return nil, errors.Validation("invalid blood request", details)
	}

	req := &BloodRequest{
		ID:              types.NewID(),
		RequesterID:     requesterID,
		PatientName:     patientName,
		BloodGroup:      bloodGroup,
		Units:           units,
		Urgency:         urgency,
		Reason:          reason,
		AdditionalNotes: additionalNotes,
		Hospital:        hospital,
		Status:          StatusActive,
		SearchRadiusKm:  urgency.RadiusKm(),
		NotifiedDonors:  []types.ID{},
		Donors:          []DonorEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(urgency.TTL()),
	}

	req.addEvent(EventCreated, now, map[string]any{
		"blood_group": bloodGroup,
		"units":       units,
		"urgency":     urgency,
	})

	return req, nil
}

// SetNotifiedDonors records the creation-time notification snapshot
func (r *BloodRequest) SetNotifiedDonors(ids []types.ID) {
	r.NotifiedDonors = make([]types.ID, len(ids))
	copy(r.NotifiedDonors, ids)
}

// IsExpired reports whether the active window has passed. The window
// closes at expiresAt itself, not one instant after.
func (r *BloodRequest) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ExpireIfDue flips an overdue active request to expired. Every
// operation that touches a request calls this first; there is no
// background sweeper. Returns true when the flip happened.
func (r *BloodRequest) ExpireIfDue(now time.Time) bool {
	if r.Status != StatusActive || !r.IsExpired(now) {
		return false
	}

	r.Status = StatusExpired
	r.UpdatedAt = now
	r.addEvent(EventStatusChanged, now, map[string]any{
		"old_status": StatusActive,
		"new_status": StatusExpired,
	})
	return true
}

// Respond records a donor's accept or decline. A repeat response from
// the same donor overwrites the previous one. Enough accepts to cover
// the requested units flip the request to fulfilled.
func (r *BloodRequest) Respond(donorID types.ID, response ResponseStatus, now time.Time) error {
	r.ExpireIfDue(now)

	if r.Status != StatusActive {
		return errors.StateConflict("request is no longer active")
	}
	if response != ResponseAccepted && response != ResponseDeclined {
		return errors.Validation("invalid response", map[string]string{
			"response": "must be accepted or declined",
		})
	}

	updated := false
	for i := range r.Donors {
		if r.Donors[i].DonorID == donorID {
			r.Donors[i].Status = response
			r.Donors[i].RespondedAt = now
			updated = true
			break
		}
	}
	if !updated {
		r.Donors = append(r.Donors, DonorEntry{
			DonorID:     donorID,
			Status:      response,
			RespondedAt: now,
		})
	}

	r.UpdatedAt = now
	r.addEvent(EventResponded, now, map[string]any{
		"donor_id": donorID,
		"response": response,
	})

	if response == ResponseAccepted && r.committedCount() >= r.Units {
		r.setStatus(StatusFulfilled, now)
	}

	return nil
}

// Complete marks an accepted donor's donation as completed. Allowed
// while the request is active or fulfilled; completions may trail the
// quota flip.
func (r *BloodRequest) Complete(donorID types.ID, now time.Time) error {
	r.ExpireIfDue(now)

	if r.Status != StatusActive && r.Status != StatusFulfilled {
		return errors.StateConflict("request does not accept completions")
	}

	var entry *DonorEntry
	for i := range r.Donors {
		if r.Donors[i].DonorID == donorID {
			entry = &r.Donors[i]
			break
		}
	}
	if entry == nil {
		return errors.NotFound("donor response", donorID.String())
	}
	if entry.Status == ResponseCompleted {
		return errors.StateConflict("donation already completed")
	}
	if entry.Status != ResponseAccepted {
		return errors.StateConflict("donor has not accepted this request")
	}

	entry.Status = ResponseCompleted
	entry.CompletedAt = &now
	r.UpdatedAt = now
	r.addEvent(EventCompleted, now, map[string]any{
		"donor_id": donorID,
	})

	if r.Status == StatusActive && r.committedCount() >= r.Units {
		r.setStatus(StatusFulfilled, now)
	}

	return nil
}

// Cancel withdraws an active request
func (r *BloodRequest) Cancel(now time.Time) error {
	r.ExpireIfDue(now)

	if r.Status != StatusActive {
		return errors.StateConflict("only an active request can be cancelled")
	}

	r.setStatus(StatusCancelled, now)
	r.addEvent(EventCancelled, now, nil)
	return nil
}

// EditPatch holds the fields a requester may change on an active request
type EditPatch struct {
	PatientName     *string
	Units           *int
	Urgency         *Urgency
	Reason          *string
	AdditionalNotes *string
	Hospital        *Hospital
}

// ApplyEdit updates an active request. Changing urgency restarts the
// expiry window from now and recomputes the search radius; other edits
// leave the window untouched.
func (r *BloodRequest) ApplyEdit(patch EditPatch, now time.Time) error {
	r.ExpireIfDue(now)

	if r.Status != StatusActive {
		return errors.StateConflict("only an active request can be edited")
	}

	if patch.PatientName != nil {
		if *patch.PatientName == "" {
			return errors.Validation("invalid edit", map[string]string{"patientName": "required"})
		}
		r.PatientName = *patch.PatientName
	}
	if patch.Units != nil {
		if *patch.Units < MinUnits || *patch.Units > MaxUnits {
			return errors.Validation("invalid edit", map[string]string{"units": "must be between 1 and 10"})
		}
		r.Units = *patch.Units
	}
	if patch.Urgency != nil {
		if !patch.Urgency.IsValid() {
			return errors.Validation("invalid edit", map[string]string{"urgency": "must be critical, high, medium or low"})
		}
		r.Urgency = *patch.Urgency
		r.ExpiresAt = now.Add(patch.Urgency.TTL())
		r.SearchRadiusKm = patch.Urgency.RadiusKm()
	}
	if patch.Reason != nil {
		if *patch.Reason == "" {
			return errors.Validation("invalid edit", map[string]string{"reason": "required"})
		}
		r.Reason = *patch.Reason
	}
	if patch.AdditionalNotes != nil {
		r.AdditionalNotes = *patch.AdditionalNotes
	}
	if patch.Hospital != nil {
		if patch.Hospital.Name == "" {
			return errors.Validation("invalid edit", map[string]string{"hospital.name": "required"})
		}
		if err := patch.Hospital.Location.Validate(); err != nil {
			return errors.Validation("invalid edit", map[string]string{"hospital.location": err.Error()})
		}
		r.Hospital = *patch.Hospital
	}

	r.UpdatedAt = now
	r.addEvent(EventUpdated, now, nil)

	// A lowered quota may already be covered
	if r.committedCount() >= r.Units {
		r.setStatus(StatusFulfilled, now)
	}

	return nil
}

// IsOwnedBy reports whether the user raised this request
func (r *BloodRequest) IsOwnedBy(userID types.ID) bool {
	return r.RequesterID == userID
}

// DonorEntryFor returns the donor's latest response, or nil
func (r *BloodRequest) DonorEntryFor(donorID types.ID) *DonorEntry {
	for i := range r.Donors {
		if r.Donors[i].DonorID == donorID {
			return &r.Donors[i]
		}
	}
	return nil
}

// AcceptedCount returns the number of donors committed or completed
func (r *BloodRequest) AcceptedCount() int {
	return r.committedCount()
}

// committedCount counts donors whose blood counts toward the quota
func (r *BloodRequest) committedCount() int {
	count := 0
	for _, d := range r.Donors {
		if d.Status == ResponseAccepted || d.Status == ResponseCompleted {
			count++
		}
	}
	return count
}

func (r *BloodRequest) setStatus(status Status, now time.Time) {
	old := r.Status
	r.Status = status
	r.UpdatedAt = now
	r.addEvent(EventStatusChanged, now, map[string]any{
		"old_status": old,
		"new_status": status,
	})
}

// GetDomainEvents returns and clears domain events
func (r *BloodRequest) GetDomainEvents() []Event {
	events := r.domainEvents
	r.domainEvents = nil
	return events
}

func (r *BloodRequest) addEvent(eventType string, now time.Time, data map[string]any) {
	r.domainEvents = append(r.domainEvents, Event{
		Type:      eventType,
		RequestID: r.ID,
		Timestamp: now,
		Data:      data,
	})
}

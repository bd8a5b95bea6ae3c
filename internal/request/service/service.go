package service

import (
	"context"
	"log"
	"time"

	"github.com/raktlink/platform/internal/donor"
	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/events"
	"github.com/raktlink/platform/internal/shared/metrics"
	"github.com/raktlink/platform/internal/shared/types"
)

// Notifier pushes realtime notifications to users. Delivery is
// fire-and-forget; the service never waits on it or fails because of it.
type Notifier interface {
	RequestCreated(req *domain.BloodRequest, candidates []matching.Candidate)
	DonorResponded(req *domain.BloodRequest, donorID types.ID, response domain.ResponseStatus)
	StatusChanged(req *domain.BloodRequest, from domain.Status)
	RequestCancelled(req *domain.BloodRequest)
}

// DonorReader loads donor profiles for eligibility checks
type DonorReader interface {
	Get(ctx context.Context, id types.ID) (*donor.Donor, error)
}

// HospitalDirectory resolves hospital details from an external system
type HospitalDirectory interface {
	Lookup(ctx context.Context, name string) (*domain.Hospital, error)
}

// Service orchestrates the blood request lifecycle: persistence, donor
// location, realtime notification and audit event publishing
type Service struct {
	repo      domain.Repository
	donors    DonorReader
	locator   *matching.Locator
	notifier  Notifier
	bus       events.Publisher
	directory HospitalDirectory
}

// NewService creates a new request service. The event bus may be nil
// when the platform runs without an audit stream.
func NewService(repo domain.Repository, donors DonorReader, locator *matching.Locator, notifier Notifier, bus events.Publisher) *Service {
	return &Service{
		repo:     repo,
		donors:   donors,
		locator:  locator,
		notifier: notifier,
		bus:      bus,
	}
}

// WithDirectory attaches an external hospital directory used to enrich
// sparse hospital details at creation time
func (s *Service) WithDirectory(directory HospitalDirectory) *Service {
	s.directory = directory
	return s
}

// CreateInput holds the fields to raise a blood request
type CreateInput struct {
	PatientName     string
	BloodGroup      matching.BloodGroup
	Units           int
	Urgency         domain.Urgency
	Reason          string
	AdditionalNotes string
	Hospital        domain.Hospital
}

// Create raises a blood request, locates compatible eligible donors
// around the hospital and notifies them. The located donors are frozen
// into the request's notification snapshot.
func (s *Service) Create(ctx context.Context, requesterID types.ID, input CreateInput) (*domain.BloodRequest, int, error) {
	now := time.Now()

	// Best-effort enrichment from the hospital directory
	if s.directory != nil && input.Hospital.Name != "" && input.Hospital.Address == "" {
		if found, err := s.directory.Lookup(ctx, input.Hospital.Name); err == nil {
			input.Hospital.Address = found.Address
			if input.Hospital.Location.IsZero() {
				input.Hospital.Location = found.Location
			}
		} else {
			log.Printf("Hospital directory lookup failed for %q: %v", input.Hospital.Name, err)
		}
	}

	req, err := domain.NewBloodRequest(
		requesterID, input.PatientName, input.BloodGroup, input.Units,
		input.Urgency, input.Reason, input.AdditionalNotes, input.Hospital, now,
	)
	if err != nil {
		return nil, 0, err
	}

	candidates, err := s.locator.Locate(ctx, req.BloodGroup, req.Hospital.Location, req.SearchRadiusKm)
	if err != nil {
		return nil, 0, err
	}

	// The requester never donates to their own request
	filtered := candidates[:0]
	for _, c := range candidates {
		if c.ID != requesterID {
			filtered = append(filtered, c)
		}
	}
	candidates = filtered

	ids := make([]types.ID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	req.SetNotifiedDonors(ids)

	if err := s.repo.Create(ctx, req); err != nil {
		return nil, 0, err
	}

	metrics.RecordRequestCreated(req.BloodGroup.String(), string(req.Urgency))
	metrics.RecordCandidates(len(candidates))

	s.publishEvents(ctx, requesterID, req.GetDomainEvents())
	s.notifier.RequestCreated(req, candidates)

	return req, len(candidates), nil
}

// Get returns a blood request by ID
func (s *Service) Get(ctx context.Context, id types.ID) (*domain.BloodRequest, error) {
	return s.repo.Get(ctx, id)
}

// List returns blood requests matching the filter
func (s *Service) List(ctx context.Context, filter domain.ListFilter) ([]*domain.BloodRequest, error) {
	return s.repo.List(ctx, filter)
}

// Edit updates an active request. Only the requester may edit.
func (s *Service) Edit(ctx context.Context, id, actorID types.ID, patch domain.EditPatch) (*domain.BloodRequest, error) {
	var from domain.Status

	req, err := s.repo.Mutate(ctx, id, func(req *domain.BloodRequest) error {
		if !req.IsOwnedBy(actorID) {
			return errors.Forbidden("only the requester can edit this request")
		}
		from = req.Status
		return req.ApplyEdit(patch, time.Now())
	})
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, actorID, req.GetDomainEvents())
	if req.Status != from {
		metrics.RecordStatusChange(string(from), string(req.Status))
		s.notifier.StatusChanged(req, from)
	}

	return req, nil
}

// Cancel withdraws an active request. Only the requester may cancel.
// Every donor in the notification snapshot is told.
func (s *Service) Cancel(ctx context.Context, id, actorID types.ID) (*domain.BloodRequest, error) {
	req, err := s.repo.Mutate(ctx, id, func(req *domain.BloodRequest) error {
		if !req.IsOwnedBy(actorID) {
			return errors.Forbidden("only the requester can cancel this request")
		}
		return req.Cancel(time.Now())
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordStatusChange(string(domain.StatusActive), string(domain.StatusCancelled))
	s.publishEvents(ctx, actorID, req.GetDomainEvents())
	s.notifier.RequestCancelled(req)

	return req, nil
}

// Respond records a donor's accept or decline. Accepting requires the
// donor to be eligible right now; the stored flag is not trusted.
func (s *Service) Respond(ctx context.Context, id, donorID types.ID, response domain.ResponseStatus) (*domain.BloodRequest, error) {
	now := time.Now()

	if response == domain.ResponseAccepted {
		d, err := s.donors.Get(ctx, donorID)
		if err != nil {
			return nil, err
		}
		if !d.EligibleToDonate(now) {
			return nil, errors.Eligibility("donor is within the 90 day donation window")
		}
	}

	var from domain.Status
	req, err := s.repo.Mutate(ctx, id, func(req *domain.BloodRequest) error {
		from = req.Status
		return req.Respond(donorID, response, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordDonorResponse(string(response))
	s.publishEvents(ctx, donorID, req.GetDomainEvents())
	s.notifier.DonorResponded(req, donorID, response)
	if req.Status != from {
		metrics.RecordStatusChange(string(from), string(req.Status))
		s.notifier.StatusChanged(req, from)
	}

	return req, nil
}

// Complete marks a donor's donation as completed. Only the requester
// may confirm, and the donor must have accepted. The donation history
// and the donor's eligibility flag are refreshed in the same
// transaction as the status change.
func (s *Service) Complete(ctx context.Context, id, actorID, donorID types.ID) (*domain.BloodRequest, error) {
	now := time.Now()

	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !existing.IsOwnedBy(actorID) {
		return nil, errors.Forbidden("only the requester can confirm a donation")
	}
	from := existing.Status

	req, err := s.repo.CompleteDonation(ctx, id, donorID, now)
	if err != nil {
		return nil, err
	}

	s.publishEvents(ctx, actorID, req.GetDomainEvents())
	if req.Status != from {
		metrics.RecordStatusChange(string(from), string(req.Status))
		s.notifier.StatusChanged(req, from)
	}

	return req, nil
}

// publishEvents publishes domain events to the audit stream,
// best-effort. Failures are logged and never surfaced to callers.
func (s *Service) publishEvents(ctx context.Context, actorID types.ID, domainEvents []domain.Event) {
	if s.bus == nil {
		return
	}

	for _, de := range domainEvents {
		event := events.NewEvent(de.Type, "request", de).WithActor(actorID)
		if err := s.bus.Publish(ctx, event); err != nil {
			log.Printf("Failed to publish event %s: %v", de.Type, err)
		}
	}
}

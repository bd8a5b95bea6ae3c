package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/raktlink/platform/internal/matching"
	apperrors "github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

var testHospital = Hospital{
	Name:    "City General",
	Address: "12 MG Road",
	Location: types.GeoPoint{
		Lon: 77.59,
		Lat: 12.97,
	},
}

func newTestRequest(t *testing.T, units int, urgency Urgency, now time.Time) *BloodRequest {
	t.Helper()
	req, err := NewBloodRequest(
		types.NewID(), "Asha", matching.APositive, units, urgency,
		"surgery", "", testHospital, now,
	)
	if err != nil {
		t.Fatalf("NewBloodRequest: %v", err)
	}
	req.GetDomainEvents()
	return req
}

func TestNewBloodRequestExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		urgency    Urgency
		wantExpiry time.Duration
		wantRadius float64
	}{
		{UrgencyCritical, 3 * time.Hour, 10},
		{UrgencyHigh, 6 * time.Hour, 7},
		{UrgencyMedium, 12 * time.Hour, 5},
		{UrgencyLow, 24 * time.Hour, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.urgency), func(t *testing.T) {
			req := newTestRequest(t, 2, tt.urgency, now)
			if !req.ExpiresAt.Equal(now.Add(tt.wantExpiry)) {
				t.Errorf("ExpiresAt = %v, want %v", req.ExpiresAt, now.Add(tt.wantExpiry))
			}
			if req.SearchRadiusKm != tt.wantRadius {
				t.Errorf("SearchRadiusKm = %v, want %v", req.SearchRadiusKm, tt.wantRadius)
			}
			if req.Status != StatusActive {
				t.Errorf("Status = %v, want active", req.Status)
			}
		})
	}
}

func TestNewBloodRequestValidation(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		mutate func() (*BloodRequest, error)
	}{
		{"units too low", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", matching.APositive, 0, UrgencyLow, "r", "", testHospital, now)
		}},
		{"units too high", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", matching.APositive, 11, UrgencyLow, "r", "", testHospital, now)
		}},
		{"bad blood group", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", "Z+", 2, UrgencyLow, "r", "", testHospital, now)
		}},
		{"bad urgency", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", matching.APositive, 2, "asap", "r", "", testHospital, now)
		}},
		{"missing patient name", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "", matching.APositive, 2, UrgencyLow, "r", "", testHospital, now)
		}},
		{"missing reason", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", matching.APositive, 2, UrgencyLow, "", "", testHospital, now)
		}},
		{"missing hospital", func() (*BloodRequest, error) {
			return NewBloodRequest(types.NewID(), "p", matching.APositive, 2, UrgencyLow, "r", "", Hospital{}, now)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.mutate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRespondUpsertLastWins(t *testing.T) {
	now := time.Now()
	req := newTestRequest(t, 2, UrgencyHigh, now)
	donor := types.NewID()

	if err := req.Respond(donor, ResponseAccepted, now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := req.Respond(donor, ResponseDeclined, now.Add(time.Minute)); err != nil {
		t.Fatalf("decline: %v", err)
	}

	if len(req.Donors) != 1 {
		t.Fatalf("expected single entry per donor, got %d", len(req.Donors))
	}
	if req.Donors[0].Status != ResponseDeclined {
		t.Errorf("entry status = %v, want declined", req.Donors[0].Status)
	}
	if req.AcceptedCount() != 0 {
		t.Errorf("AcceptedCount = %d, want 0 after decline overwrite", req.AcceptedCount())
	}
}

func TestRespondQuotaFulfillment(t *testing.T) {
	now := time.Now()
	req := newTestRequest(t, 2, UrgencyCritical, now)

	if err := req.Respond(types.NewID(), ResponseAccepted, now); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if req.Status != StatusActive {
		t.Fatalf("one accept of two should not fulfill, status = %v", req.Status)
	}

	if err := req.Respond(types.NewID(), ResponseAccepted, now); err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if req.Status != StatusFulfilled {
		t.Errorf("second accept should fulfill, status = %v", req.Status)
	}

	// A third donor responding against a fulfilled request is rejected
	err := req.Respond(types.NewID(), ResponseAccepted, now)
	if !errors.Is(err, apperrors.ErrStateConflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}

func TestRespondInvalidValue(t *testing.T) {
	now := time.Now()
	req := newTestRequest(t, 2, UrgencyHigh, now)

	err := req.Respond(types.NewID(), ResponseCompleted, now)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("completed is not a valid response value, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := newTestRequest(t, 1, UrgencyCritical, created)

	t.Run("not expired just before the boundary", func(t *testing.T) {
		if req.ExpireIfDue(created.Add(3*time.Hour - time.Second)) {
			t.Error("request should survive before expiresAt")
		}
	})

	t.Run("expired at exactly expiresAt", func(t *testing.T) {
		if !req.ExpireIfDue(created.Add(3 * time.Hour)) {
			t.Fatal("request should expire at expiresAt")
		}
		if req.Status != StatusExpired {
			t.Errorf("status = %v, want expired", req.Status)
		}
	})

	t.Run("expiry flip is idempotent", func(t *testing.T) {
		req.GetDomainEvents()
		if req.ExpireIfDue(created.Add(5 * time.Hour)) {
			t.Error("second flip should be a no-op")
		}
		if len(req.GetDomainEvents()) != 0 {
			t.Error("no events on repeated expiry")
		}
	})

	t.Run("respond observes expiry", func(t *testing.T) {
		fresh := newTestRequest(t, 1, UrgencyCritical, created)
		err := fresh.Respond(types.NewID(), ResponseAccepted, created.Add(4*time.Hour))
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict on expired request, got %v", err)
		}
		if fresh.Status != StatusExpired {
			t.Errorf("touch should persist the flip, status = %v", fresh.Status)
		}
	})
}

func TestCompleteLifecycle(t *testing.T) {
	now := time.Now()
	donor := types.NewID()

	t.Run("complete requires prior accept", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyHigh, now)
		err := req.Complete(donor, now)
		if !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("expected not found for unknown donor, got %v", err)
		}

		if err := req.Respond(donor, ResponseDeclined, now); err != nil {
			t.Fatalf("decline: %v", err)
		}
		err = req.Complete(donor, now)
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict for declined donor, got %v", err)
		}
	})

	t.Run("complete allowed on fulfilled request", func(t *testing.T) {
		req := newTestRequest(t, 1, UrgencyHigh, now)
		if err := req.Respond(donor, ResponseAccepted, now); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if req.Status != StatusFulfilled {
			t.Fatalf("single-unit request should fulfill on accept")
		}

		if err := req.Complete(donor, now.Add(time.Hour)); err != nil {
			t.Fatalf("complete on fulfilled request: %v", err)
		}
		if req.DonorEntryFor(donor).Status != ResponseCompleted {
			t.Error("entry should be completed")
		}
	})

	t.Run("complete preserves the response time", func(t *testing.T) {
		req := newTestRequest(t, 1, UrgencyHigh, now)
		respondedAt := now.Add(10 * time.Minute)
		completedAt := now.Add(2 * time.Hour)

		if err := req.Respond(donor, ResponseAccepted, respondedAt); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if err := req.Complete(donor, completedAt); err != nil {
			t.Fatalf("complete: %v", err)
		}

		entry := req.DonorEntryFor(donor)
		if !entry.RespondedAt.Equal(respondedAt) {
			t.Errorf("RespondedAt = %v, want %v (must survive completion)", entry.RespondedAt, respondedAt)
		}
		if entry.CompletedAt == nil || !entry.CompletedAt.Equal(completedAt) {
			t.Errorf("CompletedAt = %v, want %v", entry.CompletedAt, completedAt)
		}
	})

	t.Run("double complete rejected", func(t *testing.T) {
		req := newTestRequest(t, 1, UrgencyHigh, now)
		if err := req.Respond(donor, ResponseAccepted, now); err != nil {
			t.Fatalf("accept: %v", err)
		}
		if err := req.Complete(donor, now); err != nil {
			t.Fatalf("first complete: %v", err)
		}
		err := req.Complete(donor, now)
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict on double complete, got %v", err)
		}
	})

	t.Run("completion counts toward quota", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyHigh, now)
		d1, d2 := types.NewID(), types.NewID()
		if err := req.Respond(d1, ResponseAccepted, now); err != nil {
			t.Fatal(err)
		}
		if err := req.Complete(d1, now); err != nil {
			t.Fatal(err)
		}
		if req.Status != StatusActive {
			t.Fatalf("one of two units covered, status = %v", req.Status)
		}
		if err := req.Respond(d2, ResponseAccepted, now); err != nil {
			t.Fatal(err)
		}
		if req.Status != StatusFulfilled {
			t.Errorf("completed plus accepted should cover quota, status = %v", req.Status)
		}
	})
}

func TestCancel(t *testing.T) {
	now := time.Now()

	t.Run("cancel active request", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyMedium, now)
		if err := req.Cancel(now); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if req.Status != StatusCancelled {
			t.Errorf("status = %v, want cancelled", req.Status)
		}
	})

	t.Run("cancel after fulfilled rejected", func(t *testing.T) {
		req := newTestRequest(t, 1, UrgencyMedium, now)
		if err := req.Respond(types.NewID(), ResponseAccepted, now); err != nil {
			t.Fatal(err)
		}
		err := req.Cancel(now)
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
	})

	t.Run("cancel after expiry rejected", func(t *testing.T) {
		req := newTestRequest(t, 1, UrgencyCritical, now)
		err := req.Cancel(now.Add(4 * time.Hour))
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
		if req.Status != StatusExpired {
			t.Errorf("failed cancel should still flip expiry, status = %v", req.Status)
		}
	})
}

func TestApplyEdit(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("urgency edit restarts the window from now", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyLow, created)
		editAt := created.Add(2 * time.Hour)

		urgency := UrgencyCritical
		if err := req.ApplyEdit(EditPatch{Urgency: &urgency}, editAt); err != nil {
			t.Fatalf("edit: %v", err)
		}

		if !req.ExpiresAt.Equal(editAt.Add(3 * time.Hour)) {
			t.Errorf("ExpiresAt = %v, want %v", req.ExpiresAt, editAt.Add(3*time.Hour))
		}
		if req.SearchRadiusKm != 10 {
			t.Errorf("SearchRadiusKm = %v, want 10", req.SearchRadiusKm)
		}
	})

	t.Run("non-urgency edit leaves the window alone", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyLow, created)
		want := req.ExpiresAt

		name := "Ravi"
		if err := req.ApplyEdit(EditPatch{PatientName: &name}, created.Add(time.Hour)); err != nil {
			t.Fatalf("edit: %v", err)
		}
		if !req.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt changed on a non-urgency edit")
		}
	})

	t.Run("edit rejected on non-active request", func(t *testing.T) {
		req := newTestRequest(t, 2, UrgencyLow, created)
		if err := req.Cancel(created); err != nil {
			t.Fatal(err)
		}
		name := "Ravi"
		err := req.ApplyEdit(EditPatch{PatientName: &name}, created)
		if !errors.Is(err, apperrors.ErrStateConflict) {
			t.Errorf("expected state conflict, got %v", err)
		}
	})

	t.Run("lowering units can fulfill immediately", func(t *testing.T) {
		req := newTestRequest(t, 3, UrgencyHigh, created)
		if err := req.Respond(types.NewID(), ResponseAccepted, created); err != nil {
			t.Fatal(err)
		}

		units := 1
		if err := req.ApplyEdit(EditPatch{Units: &units}, created.Add(time.Minute)); err != nil {
			t.Fatalf("edit: %v", err)
		}
		if req.Status != StatusFulfilled {
			t.Errorf("status = %v, want fulfilled", req.Status)
		}
	})
}

func TestNotifiedDonorsSnapshot(t *testing.T) {
	req := newTestRequest(t, 1, UrgencyHigh, time.Now())

	ids := []types.ID{types.NewID(), types.NewID()}
	req.SetNotifiedDonors(ids)

	ids[0] = types.NewID()
	if req.NotifiedDonors[0] == ids[0] {
		t.Error("snapshot must not alias the caller's slice")
	}
}

func TestDomainEventsDrained(t *testing.T) {
	now := time.Now()
	req, err := NewBloodRequest(
		types.NewID(), "Asha", matching.ONegative, 1, UrgencyCritical,
		"accident", "", testHospital, now,
	)
	if err != nil {
		t.Fatal(err)
	}

	events := req.GetDomainEvents()
	if len(events) != 1 || events[0].Type != EventCreated {
		t.Fatalf("expected single created event, got %v", events)
	}
	if len(req.GetDomainEvents()) != 0 {
		t.Error("events should drain")
	}

	if err := req.Respond(types.NewID(), ResponseAccepted, now); err != nil {
		t.Fatal(err)
	}
	events = req.GetDomainEvents()
	// accept covers the single unit: responded plus status change
	if len(events) != 2 {
		t.Fatalf("expected responded and status_changed events, got %d", len(events))
	}
	if events[0].Type != EventResponded || events[1].Type != EventStatusChanged {
		t.Errorf("unexpected event order: %s, %s", events[0].Type, events[1].Type)
	}
}

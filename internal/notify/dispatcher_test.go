package notify

import (
	"testing"
	"time"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/realtime"
	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/shared/types"
)

func receive(t *testing.T, ch <-chan realtime.Message) realtime.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return realtime.Message{}
	}
}

func expectSilence(t *testing.T, ch <-chan realtime.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %s", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub(8)
	d := NewDispatcher(hub, 2, 64)
	d.Start()
	t.Cleanup(d.Stop)
	return d, hub
}

func TestRequestCreatedReachesCandidatesOnly(t *testing.T) {
	d, hub := newTestDispatcher(t)

	candidate, bystander := types.NewID(), types.NewID()
	candidateCh, cancel1 := hub.Subscribe(candidate)
	defer cancel1()
	bystanderCh, cancel2 := hub.Subscribe(bystander)
	defer cancel2()

	req := &domain.BloodRequest{
		ID:         types.NewID(),
		BloodGroup: matching.APositive,
		Units:      2,
		Urgency:    domain.UrgencyHigh,
	}
	d.RequestCreated(req, []matching.Candidate{{ID: candidate}})

	msg := receive(t, candidateCh)
	if msg.Event != EventNewBloodRequest {
		t.Errorf("event = %s, want %s", msg.Event, EventNewBloodRequest)
	}
	expectSilence(t, bystanderCh)
}

func TestDonorRespondedReachesRequester(t *testing.T) {
	d, hub := newTestDispatcher(t)

	requester := types.NewID()
	ch, cancel := hub.Subscribe(requester)
	defer cancel()

	req := &domain.BloodRequest{ID: types.NewID(), RequesterID: requester}
	d.DonorResponded(req, types.NewID(), domain.ResponseAccepted)

	msg := receive(t, ch)
	if msg.Event != EventDonorResponse {
		t.Errorf("event = %s, want %s", msg.Event, EventDonorResponse)
	}
}

func TestCancelReachesSnapshot(t *testing.T) {
	d, hub := newTestDispatcher(t)

	donorID := types.NewID()
	ch, cancel := hub.Subscribe(donorID)
	defer cancel()

	req := &domain.BloodRequest{
		ID:             types.NewID(),
		RequesterID:    types.NewID(),
		NotifiedDonors: []types.ID{donorID},
	}
	d.RequestCancelled(req)

	msg := receive(t, ch)
	if msg.Event != EventRequestCancelled {
		t.Errorf("event = %s, want %s", msg.Event, EventRequestCancelled)
	}
}

func TestAbsentSubscriberIsNoError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	req := &domain.BloodRequest{
		ID:             types.NewID(),
		RequesterID:    types.NewID(),
		NotifiedDonors: []types.ID{types.NewID()},
	}

	// None of these users are subscribed; all sends drop silently
	d.RequestCancelled(req)
	d.StatusChanged(req, domain.StatusActive)
	d.DirectMessage(types.NewID(), "Asha", types.NewID(), "hello")
}

func TestShortageBroadcastsToEveryone(t *testing.T) {
	d, hub := newTestDispatcher(t)

	ch1, cancel1 := hub.Subscribe(types.NewID())
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(types.NewID())
	defer cancel2()

	d.Shortage("O-", "City General", 3)

	for i, ch := range []<-chan realtime.Message{ch1, ch2} {
		msg := receive(t, ch)
		if msg.Event != EventBloodShortage {
			t.Errorf("subscriber %d: event = %s, want %s", i, msg.Event, EventBloodShortage)
		}
	}
}

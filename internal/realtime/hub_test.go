package realtime

import (
	"testing"

	"github.com/raktlink/platform/internal/shared/types"
)

func TestSendReachesOnlyOwnRoom(t *testing.T) {
	hub := NewHub(4)
	alice, bob := types.NewID(), types.NewID()

	aliceCh, cancelAlice := hub.Subscribe(alice)
	defer cancelAlice()
	bobCh, cancelBob := hub.Subscribe(bob)
	defer cancelBob()

	if !hub.Send(alice, Message{Event: "donor_response"}) {
		t.Fatal("send to a subscribed user should report delivery")
	}

	select {
	case msg := <-aliceCh:
		if msg.Event != "donor_response" {
			t.Errorf("event = %s, want donor_response", msg.Event)
		}
	default:
		t.Fatal("alice should have received the message")
	}

	select {
	case <-bobCh:
		t.Fatal("bob must not receive alice's message")
	default:
	}
}

func TestSendToAbsentUserDrops(t *testing.T) {
	hub := NewHub(4)
	if hub.Send(types.NewID(), Message{Event: "new_blood_request"}) {
		t.Error("send to an absent user should report no delivery")
	}
}

func TestSendDropsOnFullBuffer(t *testing.T) {
	hub := NewHub(1)
	user := types.NewID()

	ch, cancel := hub.Subscribe(user)
	defer cancel()

	hub.Send(user, Message{Event: "first"})
	// Buffer is full now; the second send must not block
	hub.Send(user, Message{Event: "second"})

	msg := <-ch
	if msg.Event != "first" {
		t.Errorf("event = %s, want first", msg.Event)
	}
	select {
	case <-ch:
		t.Error("second message should have been dropped")
	default:
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(4)
	users := []types.ID{types.NewID(), types.NewID(), types.NewID()}

	var chans []<-chan Message
	for _, u := range users {
		ch, cancel := hub.Subscribe(u)
		defer cancel()
		chans = append(chans, ch)
	}

	hub.Broadcast(users[:2], Message{Event: "request_cancelled"})

	for i, ch := range chans[:2] {
		select {
		case <-ch:
		default:
			t.Errorf("user %d should have received the broadcast", i)
		}
	}
	select {
	case <-chans[2]:
		t.Error("user outside the broadcast list must not receive")
	default:
	}
}

func TestCancelClosesAndCleansUp(t *testing.T) {
	hub := NewHub(4)
	user := types.NewID()

	ch, cancel := hub.Subscribe(user)
	if hub.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", hub.SubscriberCount())
	}

	cancel()
	cancel() // repeated cancel is safe

	if hub.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", hub.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestMultipleSubscriptionsPerUser(t *testing.T) {
	hub := NewHub(4)
	user := types.NewID()

	ch1, cancel1 := hub.Subscribe(user)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(user)
	defer cancel2()

	hub.Send(user, Message{Event: "new_message"})

	for i, ch := range []<-chan Message{ch1, ch2} {
		select {
		case <-ch:
		default:
			t.Errorf("subscription %d should have received the message", i)
		}
	}
}

package notify

import (
	"log"
	"sync"
	"time"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/realtime"
	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/shared/metrics"
	"github.com/raktlink/platform/internal/shared/types"
)

// Realtime event names pushed to clients
const (
	EventNewBloodRequest      = "new_blood_request"
	EventDonorResponse        = "donor_response"
	EventRequestStatusChanged = "request_status_changed"
	EventRequestCancelled     = "request_cancelled"
	EventNewMessage           = "new_message"
	EventBloodShortage        = "blood_shortage"
)

// job is one fan-out unit processed by a worker
type job struct {
	event string
	// targets lists the recipient rooms; nil means every subscriber
	targets []types.ID
	data    any
}

// Dispatcher fans notifications out to the realtime hub through a
// worker pool. Enqueueing never blocks: when the queue is full the
// notification is dropped and logged. Callers never see an error.
type Dispatcher struct {
	hub     *realtime.Hub
	jobs    chan job
	workers int

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher over the hub
func NewDispatcher(hub *realtime.Hub, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Dispatcher{
		hub:     hub,
		jobs:    make(chan job, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop drains the queue and waits for the workers
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		msg := realtime.Message{Event: j.event, Data: j.data}

		if j.targets == nil {
			d.hub.BroadcastAll(msg)
			metrics.RecordNotification(j.event, "broadcast")
			continue
		}

		for _, target := range j.targets {
			if d.hub.Send(target, msg) {
				metrics.RecordNotification(j.event, "delivered")
			} else {
				metrics.RecordNotification(j.event, "dropped")
			}
		}
	}
}

func (d *Dispatcher) enqueue(j job) {
	select {
	case d.jobs <- j:
	default:
		log.Printf("Notification queue full, dropping %s", j.event)
		metrics.RecordNotification(j.event, "queue_full")
	}
}

// --- service.Notifier ---

// RequestCreated notifies every located donor about the new request
func (d *Dispatcher) RequestCreated(req *domain.BloodRequest, candidates []matching.Candidate) {
	if len(candidates) == 0 {
		return
	}

	targets := make([]types.ID, len(candidates))
	for i, c := range candidates {
		targets[i] = c.ID
	}

	d.enqueue(job{
		event:   EventNewBloodRequest,
		targets: targets,
		data:    requestSummary(req),
	})
}

// DonorResponded tells the requester about a donor's response
func (d *Dispatcher) DonorResponded(req *domain.BloodRequest, donorID types.ID, response domain.ResponseStatus) {
	d.enqueue(job{
		event:   EventDonorResponse,
		targets: []types.ID{req.RequesterID},
		data: map[string]any{
			"requestId": req.ID,
			"donorId":   donorID,
			"response":  response,
		},
	})
}

// StatusChanged tells the requester and every notified donor about a
// lifecycle transition
func (d *Dispatcher) StatusChanged(req *domain.BloodRequest, from domain.Status) {
	targets := append([]types.ID{req.RequesterID}, req.NotifiedDonors...)

	d.enqueue(job{
		event:   EventRequestStatusChanged,
		targets: targets,
		data: map[string]any{
			"requestId": req.ID,
			"oldStatus": from,
			"newStatus": req.Status,
		},
	})
}

// RequestCancelled tells every notified donor the request is withdrawn
func (d *Dispatcher) RequestCancelled(req *domain.BloodRequest) {
	if len(req.NotifiedDonors) == 0 {
		return
	}

	d.enqueue(job{
		event:   EventRequestCancelled,
		targets: req.NotifiedDonors,
		data: map[string]any{
			"requestId": req.ID,
		},
	})
}

// --- direct surfaces ---

// DirectMessage pushes a message to the recipient's room
func (d *Dispatcher) DirectMessage(senderID types.ID, senderName string, recipientID types.ID, content string) {
	d.enqueue(job{
		event:   EventNewMessage,
		targets: []types.ID{recipientID},
		data: map[string]any{
			"from":     senderID,
			"fromName": senderName,
			"content":  content,
			"sentAt":   time.Now().UTC(),
		},
	})
}

// Shortage broadcasts a blood bank shortage to every subscriber
func (d *Dispatcher) Shortage(bloodGroup string, hospital string, unitsAvailable int) {
	d.enqueue(job{
		event: EventBloodShortage,
		data: map[string]any{
			"bloodGroup":     bloodGroup,
			"hospital":       hospital,
			"unitsAvailable": unitsAvailable,
		},
	})
}

func requestSummary(req *domain.BloodRequest) map[string]any {
	return map[string]any{
		"requestId":   req.ID,
		"patientName": req.PatientName,
		"bloodGroup":  req.BloodGroup,
		"units":       req.Units,
		"urgency":     req.Urgency,
		"hospital":    req.Hospital,
		"expiresAt":   req.ExpiresAt,
	}
}

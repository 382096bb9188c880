package sse

import (
	"context"
	"sync"

	"ms-event-inventory/internal/models"
	"ms-event-inventory/internal/notify"
)

const clientBuffer = 16

// Update is one server-sent event pushed to an event's subscribers.
type Update struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

const (
	KindAvailability = "availability"
	KindStatus       = "status"
	KindReservation  = "reservation"
)

// EventEmitter fans committed changes out to SSE clients watching an event
type EventEmitter struct {
	clients map[string][]chan Update
	mu      sync.RWMutex
}

var _ notify.Notifier = (*EventEmitter)(nil)

// NewEventEmitter creates a new SSE emitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{clients: make(map[string][]chan Update)}
}

// Subscribe adds a client to the event's updates. The channel is closed
// once ctx is done.
func (e *EventEmitter) Subscribe(ctx context.Context, eventID string) <-chan Update {
	clientChan := make(chan Update, clientBuffer)

	e.mu.Lock()
	e.clients[eventID] = append(e.clients[eventID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(eventID, clientChan)
	}()

	return clientChan
}

func (e *EventEmitter) StatusChanged(_ context.Context, change notify.StatusChanged) {
	e.emit(change.EventID, Update{Kind: KindStatus, Data: change})
}

func (e *EventEmitter) AvailabilityChanged(_ context.Context, a models.Availability) {
	e.emit(a.EventID, Update{Kind: KindAvailability, Data: a})
}

func (e *EventEmitter) ReservationFinalized(_ context.Context, outcome notify.ReservationFinalized) {
	e.emit(outcome.EventID, Update{Kind: KindReservation, Data: outcome})
}

func (e *EventEmitter) emit(eventID string, u Update) {
	// held across the sends so removeClient cannot close a channel mid-send
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[eventID] {
		// slow clients miss updates rather than stall the writer
		select {
		case clientChan <- u:
		default:
		}
	}
}

func (e *EventEmitter) removeClient(eventID string, clientChan chan Update) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.clients[eventID]) == 0 {
		delete(e.clients, eventID)
	}
}

// ClientCount returns the number of clients currently watching an event
func (e *EventEmitter) ClientCount(eventID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[eventID])
}

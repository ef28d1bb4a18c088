package events

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/breakdown-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated           EventType = "ticket_created"
	EventTicketStatusChanged     EventType = "ticket_status_changed"
	EventTicketAssigned          EventType = "ticket_assigned"
	EventTicketFixDetailsChanged EventType = "ticket_fix_details_changed"
	EventUpdateAppended          EventType = "update_appended"
	EventProfileChanged          EventType = "profile_changed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	ID   string      `json:"id"`
	Role domain.Role `json:"role"`
}

// ActorFrom builds the actor for a principal.
func ActorFrom(p domain.Principal) Actor {
	return Actor{ID: p.ID, Role: p.Role}
}

// Event represents a change committed to the store.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ReporterID string                `json:"reporter_id"`
	Priority   domain.TicketPriority `json:"priority"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TechnicianID   string `json:"technician_id"`
	TechnicianName string `json:"technician_name"`
}

// UpdateAppendedPayload payload.
type UpdateAppendedPayload struct {
	EntryID  string `json:"entry_id"`
	AuthorID string `json:"author_id"`
}

// ProfileChangedPayload payload.
type ProfileChangedPayload struct {
	ProfileID string      `json:"profile_id"`
	Role      domain.Role `json:"role"`
}

// wireEvent is the relay encoding; the payload is decoded once the type is known.
type wireEvent struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TicketID  string          `json:"ticket_id,omitempty"`
	Actor     Actor           `json:"actor"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func decodeEvent(data []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, err
	}
	event := Event{
		ID:        wire.ID,
		Type:      wire.Type,
		TicketID:  wire.TicketID,
		Actor:     wire.Actor,
		Timestamp: wire.Timestamp,
	}
	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return event, nil
	}

	var err error
	switch wire.Type {
	case EventTicketCreated:
		var p TicketCreatedPayload
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	case EventTicketStatusChanged:
		var p TicketStatusChangedPayload
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	case EventTicketAssigned:
		var p TicketAssignedPayload
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	case EventUpdateAppended:
		var p UpdateAppendedPayload
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	case EventProfileChanged:
		var p ProfileChangedPayload
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	default:
		var p map[string]any
		err = json.Unmarshal(wire.Payload, &p)
		event.Payload = p
	}
	return event, err
}

// Package events is the event bus adapter: it wraps domain payloads in a
// stable envelope, routes them to the lifecycle or execution channel, and
// publishes fire-and-forget with bounded retries.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/crossgraph/rollup/pkg/models"
)

// EventType names the closed set of bus events.
type EventType string

// Event type constants.
const (
	RollupCreated      EventType = "rollup.created"
	RollupUpdated      EventType = "rollup.updated"
	RollupDeleted      EventType = "rollup.deleted"
	ExecutionStarted   EventType = "rollup.execution.started"
	ExecutionProgress  EventType = "rollup.execution.progress"
	ExecutionCompleted EventType = "rollup.execution.completed"
	ExecutionFailed    EventType = "rollup.execution.failed"
	ExecutionCancelled EventType = "rollup.execution.cancelled"
)

// EnvelopeVersion is the wire version stamped on every event.
const EnvelopeVersion = 1

// Source identifies this service on the bus.
const Source = "rollup-service"

// Event is the bus envelope. Field order is the wire order: encoding/json
// serializes struct fields in declaration order, which keeps messages
// byte-stable for identical inputs.
type Event struct {
	EventID       string    `json:"eventId"`
	Type          EventType `json:"type"`
	RollupID      string    `json:"rollupId"`
	TenantID      string    `json:"tenantId"`
	Timestamp     string    `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
	Version       int       `json:"version"`
	Source        string    `json:"source"`
	Data          any       `json:"data,omitempty"`
}

// New builds an envelope for a domain payload. correlationID may be empty,
// in which case it is derived from the rollup ID so all events of one
// rollup's causal chain correlate.
func New(eventType EventType, tenantID, rollupID, correlationID string, data any) Event {
	if correlationID == "" {
		correlationID = "corr_" + rollupID
	}
	return Event{
		EventID:       models.NewEventID(),
		Type:          eventType,
		RollupID:      rollupID,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		CorrelationID: correlationID,
		Version:       EnvelopeVersion,
		Source:        Source,
		Data:          data,
	}
}

// Marshal renders the envelope in its stable wire form.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// LifecycleChannel and ExecutionChannel build the two channel names.
func LifecycleChannel(prefix string) string { return prefix + ":lifecycle" }
func ExecutionChannel(prefix string) string { return prefix + ":execution" }

// ChannelFor routes an event type: rollup.execution.* goes to the
// execution channel, everything else to lifecycle.
func ChannelFor(prefix string, eventType EventType) string {
	if strings.HasPrefix(string(eventType), "rollup.execution.") {
		return ExecutionChannel(prefix)
	}
	return LifecycleChannel(prefix)
}

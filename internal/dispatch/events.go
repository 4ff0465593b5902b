package dispatch

type EventType string

const (
	EventBusyChanged       EventType = "busy_changed"
	EventReadyChanged      EventType = "ready_changed"
	EventActionRejected    EventType = "action_rejected"
	EventPowerStateChanged EventType = "power_state_changed"
	EventMachineConfigured EventType = "machine_configured"
)

// Event is a facade event republished for external observers.
type Event struct {
	Type      EventType   `json:"type"`
	MachineID string      `json:"machine_id"`
	Data      interface{} `json:"data"`
}

type BusyData struct {
	Busy bool `json:"busy"`
}

type ReadyData struct {
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

type RejectedData struct {
	Action Action `json:"action,omitempty"`
	Reason string `json:"reason"`
}

type PowerData struct {
	On bool `json:"on"`
}

type EventPublisher interface {
	PublishEvent(event Event)
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(event Event)

func (f PublisherFunc) PublishEvent(event Event) { f(event) }

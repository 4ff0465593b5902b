package websocket

import (
	"time"

	"github.com/KevinKickass/OpenTestRig/internal/dispatch"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Machine events, one per facade event
	MessageTypeBusyChanged       MessageType = MessageType(dispatch.EventBusyChanged)
	MessageTypeReadyChanged      MessageType = MessageType(dispatch.EventReadyChanged)
	MessageTypeActionRejected    MessageType = MessageType(dispatch.EventActionRejected)
	MessageTypePowerStateChanged MessageType = MessageType(dispatch.EventPowerStateChanged)
	MessageTypeMachineConfigured MessageType = MessageType(dispatch.EventMachineConfigured)

	// Snapshots
	MessageTypeMachineStatus MessageType = "machine_status"
	MessageTypeSystemStatus  MessageType = "system_status"

	// Connection handling
	MessageTypeAuth          MessageType = "auth"
	MessageTypeAuthSuccess   MessageType = "auth_success"
	MessageTypeAuthFailed    MessageType = "auth_failed"
	MessageTypeCommand       MessageType = "command"
	MessageTypeCommandResult MessageType = "command_result"
	MessageTypeError         MessageType = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ClientMessage is what clients send to the server.
type ClientMessage struct {
	Type    MessageType       `json:"type"`
	Token   string            `json:"token,omitempty"`
	ID      string            `json:"id,omitempty"`
	Command *dispatch.Command `json:"command,omitempty"`
}

// MachineEventData carries a republished facade event
type MachineEventData struct {
	MachineID string      `json:"machine_id"`
	Event     interface{} `json:"event"`
}

type CommandResultData struct {
	ID        string `json:"id,omitempty"`
	Action    string `json:"action"`
	Accepted  bool   `json:"accepted"`
	Rejection string `json:"rejection,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SystemStatusData struct {
	State   string `json:"state"`
	Profile string `json:"profile,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMachineEventMessage(event dispatch.Event) Message {
	return NewMessage(MessageType(event.Type), MachineEventData{
		MachineID: event.MachineID,
		Event:     event.Data,
	})
}

func NewSystemStatusMessage(state, profile string) Message {
	return NewMessage(MessageTypeSystemStatus, SystemStatusData{
		State:   state,
		Profile: profile,
	})
}

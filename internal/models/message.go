package models

import (
	"time"

	"github.com/google/uuid"
)

// UnknownHost is the host name used when an address carries no machine part.
const UnknownHost = "Unknown"

// EndpointInstance is the logical endpoint and physical host that sent or
// processed a message. Empty HostID or Host means the value is not known.
type EndpointInstance struct {
	Name   string `json:"name"`
	HostID string `json:"host_id,omitempty"`
	Host   string `json:"host,omitempty"`
}

// UnknownEndpoint is returned when no resolver input is present.
var UnknownEndpoint = EndpointInstance{}

// IsUnknown reports whether the endpoint could not be resolved.
func (e EndpointInstance) IsUnknown() bool {
	return e == UnknownEndpoint
}

// MessageClassification describes what kind of message was ingested.
type MessageClassification struct {
	TypeName         string `json:"type_name,omitempty"`
	IsControlMessage bool   `json:"is_control_message"`
	IsSystemMessage  bool   `json:"is_system_message"`
}

// UnknownClassification is valid and never blocks ingestion.
var UnknownClassification = MessageClassification{}

// ControlClassification is used for transport control messages.
var ControlClassification = MessageClassification{IsControlMessage: true, IsSystemMessage: true}

// ExceptionInfo captures the exception recorded by the failing endpoint.
type ExceptionInfo struct {
	Type       string `json:"type,omitempty"`
	Message    string `json:"message,omitempty"`
	Source     string `json:"source,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// FailureDetails is only present on error-path messages.
type FailureDetails struct {
	Exception              ExceptionInfo `json:"exception"`
	FailingEndpointAddress string        `json:"failing_endpoint_address"`
	TimeOfFailure          time.Time     `json:"time_of_failure"`
}

// IngestedMessage is the canonical record handed to processors. Treat it as
// immutable once built by the converter.
type IngestedMessage struct {
	MessageID          string                `json:"message_id"`
	UniqueID           uuid.UUID             `json:"unique_id"`
	Body               []byte                `json:"-"`
	Headers            Headers               `json:"-"`
	Classification     MessageClassification `json:"classification"`
	SendingEndpoint    EndpointInstance      `json:"sending_endpoint"`
	ProcessingEndpoint EndpointInstance      `json:"processing_endpoint"`
	Recoverable        bool                  `json:"recoverable"`
	Path               IntakePath            `json:"path"`
	ReceivedAt         time.Time             `json:"received_at"`

	// Nil on the audit path
	Failure *FailureDetails `json:"failure,omitempty"`
}

// IsFailure reports whether this message came from the error queue.
func (m *IngestedMessage) IsFailure() bool {
	return m.Path == IntakeError
}

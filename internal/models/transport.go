package models

import (
	"time"
)

// IntakePath identifies which transport queue a message was drained from.
type IntakePath string

const (
	// IntakeAudit carries copies of successfully processed messages.
	IntakeAudit IntakePath = "audit"
	// IntakeError carries copies of messages that failed processing.
	IntakeError IntakePath = "error"
)

// TransportMessage is a message exactly as the transport adapter delivered it.
type TransportMessage struct {
	// Transport-native id, if the transport has one (not the message id header)
	NativeID string

	Headers     Headers
	Body        []byte
	Recoverable bool

	// Address the message arrived on
	InputAddress string
	Path         IntakePath
	ReceivedAt   time.Time

	// Transport-specific handle used for acknowledgement
	Ack any
}

// NewTransportMessage creates a transport message stamped with the receive time.
func NewTransportMessage(path IntakePath, inputAddress string, headers Headers, body []byte) *TransportMessage {
	return &TransportMessage{
		Headers:      headers,
		Body:         body,
		Recoverable:  true,
		InputAddress: inputAddress,
		Path:         path,
		ReceivedAt:   time.Now().UTC(),
	}
}

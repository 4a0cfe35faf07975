// Package identity derives the stable identity of a message from its headers.
//
// The unique id is a name-based (version 5) UUID over the message id and the
// resolved endpoint name. It depends on nothing but those two strings, so
// every process computes the same value for the same message, forever.
package identity

import (
	"strings"

	"github.com/google/uuid"

	"faultline/internal/headers"
	"faultline/internal/models"
)

// Namespace is the fixed UUID namespace for unique message ids. It equals
// uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:faultline:message-identity")).
// Changing it re-keys every stored failure.
var Namespace = uuid.MustParse("6997038a-fcef-509a-89e5-240b40823af4")

// MessageIdentity is computed once per message at ingestion time.
type MessageIdentity struct {
	MessageID string
	UniqueID  uuid.UUID
	// Endpoint name the unique id was derived from
	EndpointName string
}

// Generate parses the message id, resolves the correlation endpoint name and
// derives the unique id.
func Generate(h models.Headers) (MessageIdentity, error) {
	messageID, err := ParseID(h)
	if err != nil {
		return MessageIdentity{}, err
	}
	endpoint, err := ResolveCorrelationName(h)
	if err != nil {
		return MessageIdentity{}, err
	}
	return MessageIdentity{
		MessageID:    messageID,
		UniqueID:     UniqueID(messageID, endpoint),
		EndpointName: endpoint,
	}, nil
}

// ParseID reads the transport message id. There is no fallback: every
// downstream correlation depends on it.
func ParseID(h models.Headers) (string, error) {
	id := strings.TrimSpace(h.Get(headers.MessageID))
	if id == "" {
		return "", &MissingIdentityError{Header: headers.MessageID}
	}
	return id, nil
}

// ResolveCorrelationName returns the endpoint name used for correlation:
// the processing endpoint header, else the reply-to address without its
// machine suffix.
func ResolveCorrelationName(h models.Headers) (string, error) {
	if name := strings.TrimSpace(h.Get(headers.ProcessingEndpoint)); name != "" {
		return name, nil
	}
	if queue := strings.TrimSpace(headers.QueueName(h.Get(headers.ReplyToAddress))); queue != "" {
		return queue, nil
	}
	return "", &UnresolvableEndpointError{
		MessageID:     strings.TrimSpace(h.Get(headers.MessageID)),
		EnclosedTypes: h.Get(headers.EnclosedMessageTypes),
	}
}

// GenerateUniqueID derives the unique id for the message described by h.
func GenerateUniqueID(h models.Headers) (uuid.UUID, error) {
	id, err := Generate(h)
	if err != nil {
		return uuid.Nil, err
	}
	return id.UniqueID, nil
}

// UniqueID is the deterministic id for (messageID, endpointName). A NUL
// separator keeps ("ab", "c") and ("a", "bc") apart.
func UniqueID(messageID, endpointName string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(messageID+"\x00"+endpointName))
}

package failure

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"faultline/internal/headers"
	"faultline/internal/identity"
	"faultline/internal/models"
)

// AltSource names a header an alternative unique id can be derived from.
type AltSource string

const (
	AltProcessingEndpoint AltSource = "processing_endpoint"
	AltFailedQueue        AltSource = "failed_queue"
	AltReplyTo            AltSource = "reply_to"
)

// DefaultAltOrder is the order alternative ids are tried in when the retry
// header does not name the failure directly.
var DefaultAltOrder = []AltSource{AltProcessingEndpoint, AltFailedQueue, AltReplyTo}

// RetrySuccess is a detected successful processing of a retried message.
type RetrySuccess struct {
	MessageID string
	// uuid.Nil when only the current-style header was present
	RetryID uuid.UUID
	// Unique ids the original failure may be filed under, most likely first
	Candidates []uuid.UUID
}

// RetryDetector recognises retried messages among successfully processed
// ones and works out which failure they resolve.
type RetryDetector struct {
	order []AltSource
}

// NewRetryDetector validates order. An empty order uses DefaultAltOrder.
func NewRetryDetector(order []AltSource) (*RetryDetector, error) {
	if len(order) == 0 {
		order = DefaultAltOrder
	}
	seen := make(map[AltSource]bool, len(order))
	for _, src := range order {
		switch src {
		case AltProcessingEndpoint, AltFailedQueue, AltReplyTo:
		default:
			return nil, fmt.Errorf("unknown retry detection source %q", src)
		}
		if seen[src] {
			return nil, fmt.Errorf("duplicate retry detection source %q", src)
		}
		seen[src] = true
	}
	return &RetryDetector{order: append([]AltSource(nil), order...)}, nil
}

// Detect reports whether h belongs to a retried message. The unique id named
// by the current-style header, when valid, is the first candidate; the
// alternatives follow in the configured order without duplicates.
func (d *RetryDetector) Detect(h models.Headers) (RetrySuccess, bool) {
	legacy, hasLegacy := h.Lookup(headers.LegacyRetryID)
	current, hasCurrent := h.Lookup(headers.RetryUniqueMessageID)
	if !hasLegacy && !hasCurrent {
		return RetrySuccess{}, false
	}

	s := RetrySuccess{MessageID: strings.TrimSpace(h.Get(headers.MessageID))}
	if id, err := uuid.Parse(strings.TrimSpace(legacy)); hasLegacy && err == nil {
		s.RetryID = id
	}

	seen := make(map[uuid.UUID]bool)
	add := func(id uuid.UUID) {
		if id != uuid.Nil && !seen[id] {
			seen[id] = true
			s.Candidates = append(s.Candidates, id)
		}
	}

	if id, err := uuid.Parse(strings.TrimSpace(current)); hasCurrent && err == nil {
		add(id)
	}
	for _, id := range d.AlternativeIDs(h) {
		add(id)
	}
	return s, true
}

// AlternativeIDs derives the unique ids the original failure might have been
// recorded under, one per configured source that is present.
func (d *RetryDetector) AlternativeIDs(h models.Headers) []uuid.UUID {
	messageID := strings.TrimSpace(h.Get(headers.MessageID))
	if messageID == "" {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(d.order))
	for _, src := range d.order {
		if name := altEndpointName(h, src); name != "" {
			ids = append(ids, identity.UniqueID(messageID, name))
		}
	}
	return ids
}

func altEndpointName(h models.Headers, src AltSource) string {
	switch src {
	case AltProcessingEndpoint:
		return strings.TrimSpace(h.Get(headers.ProcessingEndpoint))
	case AltFailedQueue:
		return strings.TrimSpace(headers.QueueName(h.Get(headers.FailedQueue)))
	case AltReplyTo:
		return strings.TrimSpace(headers.QueueName(h.Get(headers.ReplyToAddress)))
	}
	return ""
}

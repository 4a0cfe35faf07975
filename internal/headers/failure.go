package headers

import (
	"strings"
	"time"

	"faultline/internal/models"
)

// wireTimeLayout is the NServiceBus wire format with the fraction separator
// normalised from ':' to '.'.
const wireTimeLayout = "2006-01-02 15:04:05.000000 Z"

// FailureDetails extracts exception info, failed queue and time of failure.
// fallback is used when the time of failure is missing or unreadable.
func FailureDetails(h models.Headers, fallback time.Time) *models.FailureDetails {
	failedAt, ok := ParseTimeOfFailure(h.Get(TimeOfFailure))
	if !ok {
		failedAt = fallback.UTC()
	}

	return &models.FailureDetails{
		Exception: models.ExceptionInfo{
			Type:       h.Get(ExceptionType),
			Message:    h.Get(ExceptionMessage),
			Source:     h.Get(ExceptionSource),
			StackTrace: h.Get(ExceptionStackTrace),
		},
		FailingEndpointAddress: strings.TrimSpace(h.Get(FailedQueue)),
		TimeOfFailure:          failedAt,
	}
}

// ParseTimeOfFailure accepts the wire format ("2006-01-02 15:04:05:000000 Z")
// and RFC 3339.
func ParseTimeOfFailure(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	wire := value
	if len(wire) > 19 && wire[19] == ':' {
		wire = wire[:19] + "." + wire[20:]
	}
	if t, err := time.Parse(wireTimeLayout, wire); err == nil {
		return t.UTC(), true
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

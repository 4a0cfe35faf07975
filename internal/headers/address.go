package headers

import (
	"strings"

	"faultline/internal/models"
)

// Address is a transport address split into queue and machine.
type Address struct {
	Queue   string
	Machine string
}

// ParseAddress splits "queue@machine". A missing machine part yields
// models.UnknownHost; loopback machine names yield an empty (unknown) host.
func ParseAddress(address string) Address {
	queue, machine, found := strings.Cut(address, "@")
	if !found || machine == "" {
		return Address{Queue: queue, Machine: models.UnknownHost}
	}
	if isLoopback(machine) {
		return Address{Queue: queue}
	}
	return Address{Queue: queue, Machine: machine}
}

// QueueName returns address with any "@machine" suffix removed.
func QueueName(address string) string {
	queue, _, _ := strings.Cut(address, "@")
	return queue
}

func isLoopback(machine string) bool {
	return strings.EqualFold(machine, "localhost") || machine == "127.0.0.1"
}

// endpointFromAddress resolves an endpoint from a "queue@machine" header.
func endpointFromAddress(h models.Headers, name string) (models.EndpointInstance, bool) {
	address, ok := nonEmpty(h, name)
	if !ok {
		return models.UnknownEndpoint, false
	}
	a := ParseAddress(address)
	if a.Queue == "" {
		return models.UnknownEndpoint, false
	}
	return models.EndpointInstance{Name: a.Queue, Host: a.Machine}, true
}

// nonEmpty returns the trimmed header value when present and not blank.
func nonEmpty(h models.Headers, name string) (string, bool) {
	v, ok := h.Lookup(name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// firstOf walks names in order and returns the first non-empty value.
func firstOf(h models.Headers, names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := nonEmpty(h, n); ok {
			return v, true
		}
	}
	return "", false
}

package headers

import "faultline/internal/models"

// ResolveSendingEndpoint resolves the endpoint that sent the message:
//  1. originating endpoint + originating host id headers,
//  2. the originating address split on "@",
//  3. Unknown.
func ResolveSendingEndpoint(h models.Headers) models.EndpointInstance {
	if ep, ok := sendingFromDiagnostics(h); ok {
		return ep
	}
	if ep, ok := endpointFromAddress(h, OriginatingAddress); ok {
		return ep
	}
	return models.UnknownEndpoint
}

func sendingFromDiagnostics(h models.Headers) (models.EndpointInstance, bool) {
	name, ok := nonEmpty(h, OriginatingEndpoint)
	if !ok {
		return models.UnknownEndpoint, false
	}
	hostID, ok := nonEmpty(h, OriginatingHostID)
	if !ok {
		return models.UnknownEndpoint, false
	}
	host, _ := nonEmpty(h, OriginatingMachine)
	return models.EndpointInstance{Name: name, HostID: hostID, Host: host}, true
}

// ResolveProcessingEndpoint resolves the endpoint that processed (or failed to
// process) the message:
//  1. the processing endpoint header, with host id and host name resolved
//     from the diagnostics headers,
//  2. on the error path only, the failed-queue address split on "@",
//  3. Unknown.
func ResolveProcessingEndpoint(h models.Headers, path models.IntakePath) models.EndpointInstance {
	if name, ok := nonEmpty(h, ProcessingEndpoint); ok {
		hostID, host := processingHost(h)
		return models.EndpointInstance{Name: name, HostID: hostID, Host: host}
	}
	if path == models.IntakeError {
		if ep, ok := endpointFromAddress(h, FailedQueue); ok {
			return ep
		}
	}
	return models.UnknownEndpoint
}

// processingHost resolves host identity: the host id header, then the host
// display name, then the processing machine. The id falls back through the
// same chain so that an instance is always identifiable when any is present.
func processingHost(h models.Headers) (hostID, host string) {
	host, _ = firstOf(h, HostDisplayName, ProcessingMachine)
	hostID, ok := nonEmpty(h, HostID)
	if !ok {
		hostID = host
	}
	return hostID, host
}

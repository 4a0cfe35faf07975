// Package headers reads structured facts out of raw transport headers.
//
// Every resolver is a pure function over models.Headers. Resolvers never
// fail: when none of their inputs are present they return the Unknown value
// for their type.
package headers

// Message identity and routing
const (
	MessageID            = "NServiceBus.MessageId"
	ProcessingEndpoint   = "NServiceBus.ProcessingEndpoint"
	ReplyToAddress       = "NServiceBus.ReplyToAddress"
	EnclosedMessageTypes = "NServiceBus.EnclosedMessageTypes"
	ControlMessage       = "NServiceBus.ControlMessage"
)

// Sending side
const (
	OriginatingEndpoint = "NServiceBus.OriginatingEndpoint"
	OriginatingHostID   = "$.diagnostics.originating.hostid"
	OriginatingMachine  = "NServiceBus.OriginatingMachine"
	OriginatingAddress  = "NServiceBus.OriginatingAddress"
)

// Processing side
const (
	HostID            = "$.diagnostics.hostid"
	HostDisplayName   = "$.diagnostics.hostdisplayname"
	ProcessingMachine = "NServiceBus.ProcessingMachine"
)

// Failure details, present on error-queue copies
const (
	FailedQueue         = "NServiceBus.FailedQ"
	TimeOfFailure       = "NServiceBus.TimeOfFailure"
	ExceptionType       = "NServiceBus.ExceptionInfo.ExceptionType"
	ExceptionMessage    = "NServiceBus.ExceptionInfo.Message"
	ExceptionSource     = "NServiceBus.ExceptionInfo.Source"
	ExceptionStackTrace = "NServiceBus.ExceptionInfo.StackTrace"
)

// Retry correlation stamped on re-delivered messages
const (
	LegacyRetryID        = "ServiceControl.RetryId"
	RetryUniqueMessageID = "ServiceControl.Retry.UniqueMessageId"
)

package failure

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/models"
)

var (
	t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func observed(id uuid.UUID, at time.Time) FailureObserved {
	return FailureObserved{
		UniqueID:               id,
		MessageID:              "m1",
		AttemptedAt:            at,
		FailingEndpointAddress: "Billing@BOX",
		ProcessingEndpoint:     models.EndpointInstance{Name: "Billing", Host: "BOX"},
		Exception:              models.ExceptionInfo{Message: "boom"},
	}
}

func TestWorkflow_FirstFailureEmitsMessageFailed(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")

	msgs, outcome := wf.ObserveFailure(observed(id, t0), uuid.New())

	assert.Equal(t, Applied, outcome)
	require.Len(t, msgs, 1)
	failed, ok := msgs[0].(MessageFailed)
	require.True(t, ok)
	assert.Equal(t, id, failed.UniqueID)
	assert.Equal(t, t0, failed.FailedAt)
	assert.Equal(t, "Billing", wf.ProcessingEndpoint.Name)
	assert.Equal(t, StatusNew, wf.Status())
}

func TestWorkflow_RepeatedFailure(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())

	msgs, outcome := wf.ObserveFailure(observed(id, t1), uuid.New())

	assert.Equal(t, Applied, outcome)
	require.Len(t, msgs, 1)
	repeated, ok := msgs[0].(MessageFailedRepeatedly)
	require.True(t, ok)
	assert.Equal(t, 2, repeated.Attempts)
	assert.Len(t, wf.ProcessingAttempts, 2)
	assert.Equal(t, StatusAwaitingRetry, wf.Status())
}

func TestWorkflow_DuplicateAttemptIsNoop(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())

	// same instant in another zone is the same attempt
	msgs, outcome := wf.ObserveFailure(observed(id, t0.In(time.FixedZone("X", 3600))), uuid.New())

	assert.Equal(t, NoopDuplicateAttempt, outcome)
	assert.Empty(t, msgs)
	assert.Len(t, wf.ProcessingAttempts, 1)
}

func TestWorkflow_RetryLifecycle(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())

	retryID := uuid.New()
	cmd, outcome := wf.RequestRetry("", retryID, t1)
	require.Equal(t, Applied, outcome)
	require.NotNil(t, cmd)
	assert.Equal(t, "Billing@BOX", cmd.TargetEndpointAddress)
	assert.Equal(t, wf.ProcessingAttempts[0].AttemptID, cmd.AttemptID)
	assert.Equal(t, StatusRetryInFlight, wf.Status())

	msgs, outcome := wf.RetrySucceeded(retryID, t2)
	require.Equal(t, Applied, outcome)
	require.Len(t, msgs, 1)
	resolved := msgs[0].(MessageFailureResolvedByRetry)
	assert.Equal(t, retryID, resolved.RetryID)

	assert.True(t, wf.Resolved)
	assert.Equal(t, t2, wf.ResolvedAt)
	require.Len(t, wf.RetryAttempts, 1)
	assert.True(t, wf.RetryAttempts[0].Completed)
	assert.True(t, wf.RetryAttempts[0].Succeeded)
	assert.Equal(t, StatusResolved, wf.Status())
}

func TestWorkflow_SingleOutstandingRetry(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())

	_, first := wf.RequestRetry("Billing@BOX", uuid.New(), t1)
	cmd, second := wf.RequestRetry("Billing@BOX", uuid.New(), t1)

	assert.Equal(t, Applied, first)
	assert.Equal(t, NoopRetryInFlight, second)
	assert.Nil(t, cmd)
	assert.Len(t, wf.RetryAttempts, 1)
}

func TestWorkflow_RetrySucceededIdempotent(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	retryID := uuid.New()
	wf.RequestRetry("", retryID, t1)
	wf.RetrySucceeded(retryID, t2)

	msgs, outcome := wf.RetrySucceeded(retryID, t2.Add(time.Hour))

	assert.Equal(t, NoopAlreadyResolved, outcome)
	assert.Empty(t, msgs)
	assert.Equal(t, t2, wf.ResolvedAt)
}

func TestWorkflow_RetrySucceededUnknownRetry(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	wf.RequestRetry("", uuid.New(), t1)

	msgs, outcome := wf.RetrySucceeded(uuid.New(), t2)

	assert.Equal(t, NoopUnknownRetry, outcome)
	assert.Empty(t, msgs)
	assert.False(t, wf.Resolved)
}

func TestWorkflow_RetrySucceededNilMatchesOutstanding(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())

	_, outcome := wf.RetrySucceeded(uuid.Nil, t1)
	assert.Equal(t, NoopUnknownRetry, outcome)

	retryID := uuid.New()
	wf.RequestRetry("", retryID, t1)
	msgs, outcome := wf.RetrySucceeded(uuid.Nil, t2)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, retryID, msgs[0].(MessageFailureResolvedByRetry).RetryID)
}

func TestWorkflow_LaterFailureClosesOutstandingRetry(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	wf.RequestRetry("", uuid.New(), t1)

	_, outcome := wf.ObserveFailure(observed(id, t2), uuid.New())
	require.Equal(t, Applied, outcome)

	assert.True(t, wf.RetryAttempts[0].Completed)
	assert.False(t, wf.RetryAttempts[0].Succeeded)
	assert.Equal(t, StatusAwaitingRetry, wf.Status())

	_, outcome = wf.RequestRetry("", uuid.New(), t2)
	assert.Equal(t, Applied, outcome)
	require.Len(t, wf.RetryAttempts, 2)
	assert.Equal(t, wf.ProcessingAttempts[1].AttemptID, wf.RetryAttempts[1].AttemptID)
}

func TestWorkflow_EarlierFailureKeepsRetryOpen(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t1), uuid.New())
	wf.RequestRetry("", uuid.New(), t2)

	// a late-arriving copy of an older failure
	wf.ObserveFailure(observed(id, t0), uuid.New())

	_, open := wf.OutstandingRetry()
	assert.True(t, open)
}

func TestWorkflow_RequestRetryWhenResolved(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	retryID := uuid.New()
	wf.RequestRetry("", retryID, t1)
	wf.RetrySucceeded(retryID, t2)

	cmd, outcome := wf.RequestRetry("", uuid.New(), t2)
	assert.Nil(t, cmd)
	assert.Equal(t, NoopAlreadyResolved, outcome)
}

func TestWorkflow_AbandonRetry(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	retryID := uuid.New()
	wf.RequestRetry("", retryID, t1)

	assert.True(t, wf.abandonRetry(retryID))
	assert.False(t, wf.abandonRetry(retryID))
	_, open := wf.OutstandingRetry()
	assert.False(t, open)
}

func TestWorkflow_CloneIsDeep(t *testing.T) {
	id := uuid.New()
	wf := NewWorkflow(id, "m1")
	wf.ObserveFailure(observed(id, t0), uuid.New())
	wf.RequestRetry("", uuid.New(), t1)

	c := wf.Clone()
	c.ProcessingAttempts[0].ExceptionMessage = "changed"
	c.RetryAttempts[0].Completed = true

	assert.Equal(t, "boom", wf.ProcessingAttempts[0].ExceptionMessage)
	assert.False(t, wf.RetryAttempts[0].Completed)
}

func TestPerformRetry_RetryHeaders(t *testing.T) {
	cmd := PerformRetry{UniqueID: uuid.New(), RetryID: uuid.New()}
	h := cmd.RetryHeaders()

	assert.Equal(t, cmd.RetryID.String(), h["ServiceControl.RetryId"])
	assert.Equal(t, cmd.UniqueID.String(), h["ServiceControl.Retry.UniqueMessageId"])
}

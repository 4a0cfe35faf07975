package failure

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/headers"
	"faultline/internal/identity"
	"faultline/internal/models"
)

func hdrs(kv ...string) models.Headers {
	pairs := make([]models.Header, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, models.Header{Name: kv[i], Value: kv[i+1]})
	}
	return models.NewHeaders(pairs...)
}

func newDetector(t *testing.T, order ...AltSource) *RetryDetector {
	t.Helper()
	d, err := NewRetryDetector(order)
	require.NoError(t, err)
	return d
}

func TestDetect_NoRetryHeaders(t *testing.T) {
	d := newDetector(t)

	_, ok := d.Detect(hdrs(headers.MessageID, "m1", headers.ProcessingEndpoint, "Sales"))
	assert.False(t, ok)
}

func TestDetect_LegacyHeader(t *testing.T) {
	d := newDetector(t)
	retryID := uuid.New()

	s, ok := d.Detect(hdrs(
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
		headers.LegacyRetryID, retryID.String(),
	))

	require.True(t, ok)
	assert.Equal(t, "m1", s.MessageID)
	assert.Equal(t, retryID, s.RetryID)
	assert.Equal(t, []uuid.UUID{identity.UniqueID("m1", "Sales")}, s.Candidates)
}

func TestDetect_CurrentHeaderIsFirstCandidate(t *testing.T) {
	d := newDetector(t)
	named := uuid.New()

	s, ok := d.Detect(hdrs(
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
		headers.RetryUniqueMessageID, named.String(),
	))

	require.True(t, ok)
	assert.Equal(t, uuid.Nil, s.RetryID)
	require.Len(t, s.Candidates, 2)
	assert.Equal(t, named, s.Candidates[0])
	assert.Equal(t, identity.UniqueID("m1", "Sales"), s.Candidates[1])
}

func TestDetect_CandidatesDeduplicated(t *testing.T) {
	d := newDetector(t)
	sales := identity.UniqueID("m1", "Sales")

	s, ok := d.Detect(hdrs(
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
		headers.FailedQueue, "Sales@BOX",
		headers.ReplyToAddress, "Sales",
		headers.RetryUniqueMessageID, sales.String(),
	))

	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{sales}, s.Candidates)
}

func TestDetect_MalformedHeadersStillDetected(t *testing.T) {
	d := newDetector(t)

	s, ok := d.Detect(hdrs(
		headers.MessageID, "m1",
		headers.FailedQueue, "Billing@BOX",
		headers.LegacyRetryID, "not-a-uuid",
		headers.RetryUniqueMessageID, "also-not-a-uuid",
	))

	require.True(t, ok)
	assert.Equal(t, uuid.Nil, s.RetryID)
	assert.Equal(t, []uuid.UUID{identity.UniqueID("m1", "Billing")}, s.Candidates)
}

func TestAlternativeIDs_Order(t *testing.T) {
	h := hdrs(
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
		headers.FailedQueue, "Billing@BOX",
		headers.ReplyToAddress, "Sender@OTHER",
	)
	sales := identity.UniqueID("m1", "Sales")
	billing := identity.UniqueID("m1", "Billing")
	sender := identity.UniqueID("m1", "Sender")

	tests := []struct {
		name  string
		order []AltSource
		want  []uuid.UUID
	}{
		{"default", nil, []uuid.UUID{sales, billing, sender}},
		{"reversed", []AltSource{AltReplyTo, AltFailedQueue, AltProcessingEndpoint}, []uuid.UUID{sender, billing, sales}},
		{"subset", []AltSource{AltFailedQueue}, []uuid.UUID{billing}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newDetector(t, tt.order...).AlternativeIDs(h))
		})
	}
}

func TestAlternativeIDs_NoMessageID(t *testing.T) {
	d := newDetector(t)
	assert.Empty(t, d.AlternativeIDs(hdrs(headers.ProcessingEndpoint, "Sales")))
}

func TestNewRetryDetector_Invalid(t *testing.T) {
	_, err := NewRetryDetector([]AltSource{"bogus"})
	assert.Error(t, err)

	_, err = NewRetryDetector([]AltSource{AltReplyTo, AltReplyTo})
	assert.Error(t, err)
}

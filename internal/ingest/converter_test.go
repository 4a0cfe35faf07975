package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/headers"
	"faultline/internal/identity"
	"faultline/internal/models"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestConverter() *Converter {
	return NewConverter(Config{Now: func() time.Time { return fixedNow }})
}

func transport(path models.IntakePath, kv ...string) *models.TransportMessage {
	pairs := make([]models.Header, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, models.Header{Name: kv[i], Value: kv[i+1]})
	}
	msg := models.NewTransportMessage(path, string(path), models.NewHeaders(pairs...), []byte(`{"n":1}`))
	msg.ReceivedAt = time.Time{}
	return msg
}

// recordingProcessor appends its name to a shared log
type recordingProcessor struct {
	name string
	mu   *sync.Mutex
	log  *[]string
	err  error
	seen *models.IngestedMessage
}

func (p *recordingProcessor) Name() string { return p.name }

func (p *recordingProcessor) Process(ctx context.Context, msg *models.IngestedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, p.name)
	p.seen = msg
	return p.err
}

func TestConvert_AuditMessage(t *testing.T) {
	c := newTestConverter()
	msg := transport(models.IntakeAudit,
		headers.MessageID, "abc-123",
		headers.ProcessingEndpoint, "Sales",
		headers.OriginatingEndpoint, "Web",
		headers.OriginatingHostID, "web-host",
		headers.EnclosedMessageTypes, "Sales.PlaceOrder, Sales.Messages",
	)

	got, err := c.Convert(msg)
	require.NoError(t, err)

	assert.Equal(t, "abc-123", got.MessageID)
	assert.Equal(t, "8c224409-f164-55b1-9c28-74801bd7ae90", got.UniqueID.String())
	assert.Equal(t, models.EndpointInstance{Name: "Web", HostID: "web-host"}, got.SendingEndpoint)
	assert.Equal(t, "Sales", got.ProcessingEndpoint.Name)
	assert.Equal(t, "Sales.PlaceOrder", got.Classification.TypeName)
	assert.Equal(t, models.IntakeAudit, got.Path)
	assert.True(t, got.Recoverable)
	assert.Equal(t, fixedNow, got.ReceivedAt)
	assert.Nil(t, got.Failure)
	assert.False(t, got.IsFailure())
}

func TestConvert_ErrorMessageCarriesFailure(t *testing.T) {
	c := newTestConverter()
	msg := transport(models.IntakeError,
		headers.MessageID, "m1",
		headers.ReplyToAddress, "Billing@BOX",
		headers.FailedQueue, "Billing@BOX",
		headers.ExceptionMessage, "boom",
	)

	got, err := c.Convert(msg)
	require.NoError(t, err)

	assert.Equal(t, identity.UniqueID("m1", "Billing"), got.UniqueID)
	assert.Equal(t, models.EndpointInstance{Name: "Billing", Host: "BOX"}, got.ProcessingEndpoint)
	require.NotNil(t, got.Failure)
	assert.Equal(t, "Billing@BOX", got.Failure.FailingEndpointAddress)
	assert.Equal(t, "boom", got.Failure.Exception.Message)
	// no time of failure header: receive time is used
	assert.Equal(t, fixedNow, got.Failure.TimeOfFailure)
	assert.True(t, got.IsFailure())
}

func TestConvert_UnknownMetadataNeverFails(t *testing.T) {
	c := newTestConverter()
	msg := transport(models.IntakeAudit,
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
	)

	got, err := c.Convert(msg)
	require.NoError(t, err)
	assert.True(t, got.SendingEndpoint.IsUnknown())
	assert.Equal(t, models.UnknownClassification, got.Classification)
}

func TestConvert_IdentityErrors(t *testing.T) {
	c := newTestConverter()

	_, err := c.Convert(transport(models.IntakeAudit, headers.ProcessingEndpoint, "Sales"))
	assert.ErrorIs(t, err, identity.ErrIdentity)

	_, err = c.Convert(transport(models.IntakeAudit, headers.MessageID, "m1"))
	var unresolvable *identity.UnresolvableEndpointError
	assert.True(t, errors.As(err, &unresolvable))
}

func TestConvert_UnknownPath(t *testing.T) {
	c := newTestConverter()
	_, err := c.Convert(transport("bogus", headers.MessageID, "m1", headers.ProcessingEndpoint, "Sales"))
	assert.ErrorIs(t, err, ErrUnknownPath)
}

func TestDispatch_RegistrationOrderPerPath(t *testing.T) {
	c := newTestConverter()
	var mu sync.Mutex
	var log []string

	c.Register(models.IntakeAudit,
		&recordingProcessor{name: "first", mu: &mu, log: &log},
		&recordingProcessor{name: "second", mu: &mu, log: &log},
	)
	c.Register(models.IntakeError, &recordingProcessor{name: "error-only", mu: &mu, log: &log})
	c.Register(models.IntakeAudit, &recordingProcessor{name: "third", mu: &mu, log: &log})

	err := c.Ingest(context.Background(), transport(models.IntakeAudit,
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, log)
}

func TestDispatch_StopsAtFirstError(t *testing.T) {
	c := newTestConverter()
	var mu sync.Mutex
	var log []string
	boom := errors.New("boom")

	c.Register(models.IntakeError,
		&recordingProcessor{name: "ok", mu: &mu, log: &log},
		&recordingProcessor{name: "fails", mu: &mu, log: &log, err: boom},
		&recordingProcessor{name: "never", mu: &mu, log: &log},
	)

	err := c.Ingest(context.Background(), transport(models.IntakeError,
		headers.MessageID, "m1",
		headers.ProcessingEndpoint, "Sales",
	))

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var pe *ProcessorError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "fails", pe.Processor)
	assert.Equal(t, "m1", pe.MessageID)
	assert.Equal(t, []string{"ok", "fails"}, log)
}

func TestIngest_ConversionErrorSkipsProcessors(t *testing.T) {
	c := newTestConverter()
	called := false
	c.Register(models.IntakeAudit, ProcessorFunc{
		ProcessorName: "spy",
		Fn: func(ctx context.Context, msg *models.IngestedMessage) error {
			called = true
			return nil
		},
	})

	err := c.Ingest(context.Background(), transport(models.IntakeAudit, headers.ProcessingEndpoint, "Sales"))
	assert.ErrorIs(t, err, identity.ErrIdentity)
	assert.False(t, called)
}

func TestProcessors_ReturnsCopy(t *testing.T) {
	c := newTestConverter()
	c.Register(models.IntakeAudit, ProcessorFunc{ProcessorName: "a", Fn: func(context.Context, *models.IngestedMessage) error { return nil }})

	ps := c.Processors(models.IntakeAudit)
	ps[0] = nil
	assert.NotNil(t, c.Processors(models.IntakeAudit)[0])
	assert.Empty(t, c.Processors(models.IntakeError))
}

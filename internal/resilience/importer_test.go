package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultline/internal/alerts"
	"faultline/internal/metrics"
	"faultline/internal/models"
)

// MockSink keeps persisted records in memory
type MockSink struct {
	mu      sync.Mutex
	records []*models.ImportFailureRecord
	err     error
}

func (s *MockSink) Persist(ctx context.Context, rec *models.ImportFailureRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.records = append(s.records, rec)
	return "record:" + rec.ID.String(), nil
}

func (s *MockSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// MockNotifier records raised alerts
type MockNotifier struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (n *MockNotifier) Notify(ctx context.Context, a alerts.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func message() *models.TransportMessage {
	msg := models.NewTransportMessage(models.IntakeAudit, "audit",
		models.NewHeaders(models.Header{Name: "NServiceBus.MessageId", Value: "m1"}), []byte(`{"a":1}`))
	msg.NativeID = "audit/0@7"
	return msg
}

type importerFixture struct {
	importer *Importer
	sink     *MockSink
	notifier *MockNotifier
	breaker  *Breaker
	tripped  chan error
}

func newImporterFixture(threshold int, pipeline PipelineFunc) *importerFixture {
	f := &importerFixture{
		sink:     &MockSink{},
		notifier: &MockNotifier{},
		tripped:  make(chan error, 1),
	}
	f.breaker = NewBreaker("audit", threshold, func(_ string, _ int64, err error) { f.tripped <- err })
	f.importer = NewImporter(ImporterConfig{
		Path:     models.IntakeAudit,
		Pipeline: pipeline,
		Breaker:  f.breaker,
		Sink:     f.sink,
		Notifier: f.notifier,
	})
	return f
}

func TestImporter_Success(t *testing.T) {
	f := newImporterFixture(3, func(context.Context, *models.TransportMessage) error { return nil })
	f.breaker.Failure(errors.New("earlier"))

	require.NoError(t, f.importer.Handle(context.Background(), message()))

	assert.Equal(t, int64(0), f.breaker.Failures())
	assert.Equal(t, 0, f.sink.count())
}

func TestImporter_FatalErrorQuarantined(t *testing.T) {
	f := newImporterFixture(3, func(context.Context, *models.TransportMessage) error {
		return errors.New("missing message id")
	})
	msg := message()
	quarantined := metrics.ImportFailuresTotal.WithLabelValues(string(models.IntakeAudit))
	before := testutil.ToFloat64(quarantined)

	err := f.importer.Handle(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(quarantined))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BreakerConsecutiveFailures.WithLabelValues(string(models.IntakeAudit))))
	require.Equal(t, 1, f.sink.count())
	rec := f.sink.records[0]
	assert.Equal(t, models.IntakeAudit, rec.Path)
	assert.Equal(t, []byte(`{"a":1}`), rec.RawPayload)
	assert.Equal(t, "m1", rec.Headers["NServiceBus.MessageId"])
	assert.Contains(t, rec.ExceptionText, "missing message id")
	assert.Equal(t, int64(1), f.breaker.Failures())

	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, alerts.SeverityWarning, f.notifier.alerts[0].Severity)
	assert.Equal(t, "record:"+rec.ID.String(), f.notifier.alerts[0].Fields["location"])
}

func TestImporter_PanicQuarantined(t *testing.T) {
	f := newImporterFixture(3, func(context.Context, *models.TransportMessage) error {
		var m map[string]int
		m["x"] = 1
		return nil
	})

	require.NoError(t, f.importer.Handle(context.Background(), message()))
	require.Equal(t, 1, f.sink.count())
	assert.Contains(t, f.sink.records[0].ExceptionText, "panic")
}

func TestImporter_TransientErrorRedelivers(t *testing.T) {
	f := newImporterFixture(3, func(context.Context, *models.TransportMessage) error {
		return context.DeadlineExceeded
	})

	err := f.importer.Handle(context.Background(), message())

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, f.sink.count())
	assert.Equal(t, int64(1), f.breaker.Failures())
}

func TestImporter_PersistFailureRedelivers(t *testing.T) {
	f := newImporterFixture(3, func(context.Context, *models.TransportMessage) error {
		return errors.New("bad payload")
	})
	f.sink.err = errors.New("disk full")

	err := f.importer.Handle(context.Background(), message())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.notifier.alerts)
	assert.Equal(t, int64(1), f.breaker.Failures())
}

func TestImporter_BreakerTripsAndRefuses(t *testing.T) {
	f := newImporterFixture(2, func(context.Context, *models.TransportMessage) error {
		return errors.New("poison")
	})
	ctx := context.Background()

	require.NoError(t, f.importer.Handle(ctx, message()))
	select {
	case <-f.tripped:
		t.Fatal("breaker tripped early")
	default:
	}

	require.NoError(t, f.importer.Handle(ctx, message()))
	select {
	case err := <-f.tripped:
		assert.Contains(t, err.Error(), "poison")
	default:
		t.Fatal("breaker did not trip")
	}

	assert.ErrorIs(t, f.importer.Handle(ctx, message()), ErrBreakerOpen)
	assert.Equal(t, 2, f.sink.count())
}

func TestImporter_FailedToReceive(t *testing.T) {
	f := newImporterFixture(2, func(context.Context, *models.TransportMessage) error { return nil })
	ctx := context.Background()

	f.importer.FailedToReceive(ctx, context.Canceled)
	assert.Equal(t, int64(0), f.breaker.Failures())

	f.importer.FailedToReceive(ctx, errors.New("broker gone"))
	f.importer.FailedToReceive(ctx, errors.New("broker gone"))
	assert.True(t, f.breaker.Tripped())
	assert.Equal(t, 0, f.sink.count())
}

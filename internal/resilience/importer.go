package resilience

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"

	"faultline/internal/alerts"
	"faultline/internal/logger"
	"faultline/internal/metrics"
	"faultline/internal/models"
)

// Pipeline converts and dispatches one transport message.
type Pipeline interface {
	Ingest(ctx context.Context, msg *models.TransportMessage) error
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, msg *models.TransportMessage) error

func (f PipelineFunc) Ingest(ctx context.Context, msg *models.TransportMessage) error {
	return f(ctx, msg)
}

// ForensicSink durably stores a record of a message that could not be
// imported and returns a location an operator can use to find it.
type ForensicSink interface {
	Persist(ctx context.Context, rec *models.ImportFailureRecord) (string, error)
}

// ImporterConfig configures an Importer
type ImporterConfig struct {
	Path     models.IntakePath
	Pipeline Pipeline
	Breaker  *Breaker
	Sink     ForensicSink
	Notifier alerts.Notifier
}

// Importer wraps the receive callback of one intake path. A nil return
// means the transport message may be acknowledged.
type Importer struct {
	path     models.IntakePath
	pipeline Pipeline
	breaker  *Breaker
	sink     ForensicSink
	notifier alerts.Notifier
	log      zerolog.Logger
}

// NewImporter creates an importer. Pipeline, Breaker and Sink are required.
func NewImporter(cfg ImporterConfig) *Importer {
	n := cfg.Notifier
	if n == nil {
		n = alerts.LogNotifier{}
	}
	return &Importer{
		path:     cfg.Path,
		pipeline: cfg.Pipeline,
		breaker:  cfg.Breaker,
		sink:     cfg.Sink,
		notifier: n,
		log:      logger.WithComponent("importer").With().Str("path", string(cfg.Path)).Logger(),
	}
}

// Breaker returns the breaker guarding this path.
func (i *Importer) Breaker() *Breaker { return i.breaker }

// Handle imports msg. Fatal-for-message errors are quarantined as an
// ImportFailureRecord and acknowledged; transient errors are returned so the
// transport redelivers.
func (i *Importer) Handle(ctx context.Context, msg *models.TransportMessage) error {
	if i.breaker.Tripped() {
		return ErrBreakerOpen
	}

	err := i.ingest(ctx, msg)
	if err == nil {
		i.breaker.Success()
		i.observeBreaker()
		metrics.IngestMessagesTotal.WithLabelValues(string(i.path), "imported").Inc()
		return nil
	}

	if IsTransient(err) {
		i.log.Warn().Err(err).Str("native_id", msg.NativeID).Msg("Transient import error, message will be redelivered")
		metrics.IngestMessagesTotal.WithLabelValues(string(i.path), "redeliver").Inc()
		i.failure(err)
		return err
	}

	rec := models.NewImportFailureRecord(msg, err)
	location, perr := i.sink.Persist(ctx, rec)
	if perr != nil {
		// Nothing durable yet: leave the message with the transport.
		i.log.Error().Err(perr).AnErr("import_error", err).Str("native_id", msg.NativeID).Msg("Failed to persist import failure record")
		metrics.ForensicRecordsTotal.WithLabelValues("error").Inc()
		metrics.IngestMessagesTotal.WithLabelValues(string(i.path), "redeliver").Inc()
		i.failure(err)
		return fmt.Errorf("persist import failure: %w", perr)
	}

	metrics.ForensicRecordsTotal.WithLabelValues("written").Inc()
	metrics.ImportFailuresTotal.WithLabelValues(string(i.path)).Inc()
	metrics.IngestMessagesTotal.WithLabelValues(string(i.path), "import_failed").Inc()

	i.notifier.Notify(ctx, alerts.Alert{
		Severity: alerts.SeverityWarning,
		Title:    "Message could not be imported",
		Detail:   rec.ExceptionText,
		Fields: map[string]string{
			"path":      string(i.path),
			"record_id": rec.ID.String(),
			"location":  location,
		},
		RaisedAt: rec.WrittenAt,
	})

	i.failure(err)
	return nil
}

// FailedToReceive records a transport-level receive error. There is no
// payload, so no record is written.
func (i *Importer) FailedToReceive(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	i.log.Warn().Err(err).Msg("Failed to receive message")
	metrics.ReceiveFailuresTotal.WithLabelValues(string(i.path)).Inc()
	i.failure(err)
}

func (i *Importer) ingest(ctx context.Context, msg *models.TransportMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("importer").Inc()
			i.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered panic during import")
			err = &ImportError{Path: string(i.path), NativeID: msg.NativeID, Recovered: r}
		}
	}()

	if err := i.pipeline.Ingest(ctx, msg); err != nil {
		return &ImportError{Path: string(i.path), NativeID: msg.NativeID, Err: err}
	}
	return nil
}

func (i *Importer) failure(err error) {
	i.breaker.Failure(err)
	i.observeBreaker()
}

func (i *Importer) observeBreaker() {
	metrics.BreakerConsecutiveFailures.WithLabelValues(string(i.path)).Set(float64(i.breaker.Failures()))
}

// Package processor wires intake, the failure workflow and the admin API
// into one host and runs it until shutdown or a critical condition.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faultline/internal/alerts"
	"faultline/internal/config"
	"faultline/internal/failure"
	"faultline/internal/handlers"
	"faultline/internal/headers"
	"faultline/internal/ingest"
	"faultline/internal/kafka"
	"faultline/internal/logger"
	"faultline/internal/metrics"
	"faultline/internal/middleware"
	"faultline/internal/models"
	"faultline/internal/resilience"
	"faultline/internal/state"
	"faultline/internal/storage"
	"faultline/internal/worker"
)

// ErrCritical is the run result when an intake breaker trips.
var ErrCritical = errors.New("critical: import breaker tripped")

// Dependencies are the external collaborators of the host. Anything left
// nil is built from the config.
type Dependencies struct {
	Store     failure.Store
	Records   storage.RecordStore
	Publisher failure.Publisher
	Receivers map[models.IntakePath]worker.Receiver
	Checks    map[string]handlers.Check
	Closers   []io.Closer
}

// Processor is the high-level coordinator for intake, failure tracking and
// the admin API.
type Processor struct {
	cfg  *config.Config
	deps Dependencies

	manager  *failure.Manager
	journal  *alerts.Journal
	notifier alerts.Notifier
	pools    map[models.IntakePath]*worker.Pool
	breakers map[models.IntakePath]*resilience.Breaker

	httpServer *http.Server
	wg         sync.WaitGroup
}

// Option customises a Processor
type Option func(*Processor)

// WithDependencies injects collaborators instead of building them.
func WithDependencies(d Dependencies) Option {
	return func(p *Processor) { p.deps = d }
}

// New constructs a Processor with given config.
func New(cfg *config.Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:      cfg,
		journal:  alerts.NewJournal(200),
		pools:    make(map[models.IntakePath]*worker.Pool),
		breakers: make(map[models.IntakePath]*resilience.Breaker),
	}
	p.notifier = alerts.Fanout{alerts.LogNotifier{}, p.journal}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts intake and the admin API and blocks until ctx is cancelled or
// a breaker trips. A tripped breaker returns an error wrapping ErrCritical.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if err := p.buildDependencies(); err != nil {
		p.closeAll()
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer p.closeAll()

	converter, err := p.initPipeline()
	if err != nil {
		return err
	}

	files, err := storage.NewFileWriter(p.cfg.Forensics.Dir)
	if err != nil {
		return err
	}
	archive := storage.NewArchive(p.deps.Records, files)

	p.initIntake(converter, archive, cancel)
	for _, pool := range p.pools {
		pool.Start(ctx)
	}

	p.initHTTPServer()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Info().Str("addr", p.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	p.shutdown()

	if cause := context.Cause(ctx); errors.Is(cause, ErrCritical) {
		return cause
	}
	return nil
}

// Manager returns the failure manager once Run has started.
func (p *Processor) Manager() *failure.Manager { return p.manager }

// buildDependencies fills in whatever was not injected
func (p *Processor) buildDependencies() error {
	log := logger.WithComponent("processor")
	if p.deps.Checks == nil {
		p.deps.Checks = make(map[string]handlers.Check)
	}

	if p.deps.Store == nil || p.deps.Records == nil {
		if p.cfg.Redis.Addr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     p.cfg.Redis.Addr,
				Password: p.cfg.Redis.Password,
				DB:       p.cfg.Redis.DB,
			})
			p.deps.Closers = append(p.deps.Closers, client)
			p.deps.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

			if p.deps.Store == nil {
				p.deps.Store = state.NewRedisStore(client, p.cfg.Redis.KeyPrefix)
			}
			if p.deps.Records == nil {
				p.deps.Records = storage.NewRedisRecordStore(client, p.cfg.Redis.KeyPrefix)
			}
			log.Info().Str("addr", p.cfg.Redis.Addr).Msg("using redis stores")
		} else {
			if p.deps.Store == nil {
				p.deps.Store = failure.NewMemoryStore()
			}
			if p.deps.Records == nil {
				p.deps.Records = storage.NewMemoryRecordStore()
			}
			log.Warn().Msg("redis not configured, using in-memory stores")
		}
	}

	if p.deps.Publisher == nil {
		producer, err := kafka.NewProducer(
			p.cfg.Kafka.Brokers,
			kafka.Topics{Events: p.cfg.Kafka.EventsTopic, Retries: p.cfg.Kafka.RetriesTopic},
			p.cfg.Kafka.Producer,
		)
		if err != nil {
			return err
		}
		p.deps.Publisher = producer
		p.deps.Closers = append(p.deps.Closers, producer)
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("events_topic", p.cfg.Kafka.EventsTopic).
			Str("retries_topic", p.cfg.Kafka.RetriesTopic).
			Msg("kafka producer initialized")
	}

	if p.deps.Receivers == nil {
		p.deps.Receivers = make(map[models.IntakePath]worker.Receiver)
		topics := map[models.IntakePath]string{
			models.IntakeAudit: p.cfg.Kafka.AuditTopic,
			models.IntakeError: p.cfg.Kafka.ErrorTopic,
		}
		for path, topic := range topics {
			intake := kafka.NewIntake(path, topic, kafka.NewReader(p.cfg.Kafka, topic))
			p.deps.Receivers[path] = intake
			p.deps.Closers = append(p.deps.Closers, intake)
		}
	}
	return nil
}

// initPipeline builds the converter and registers the failure processors
func (p *Processor) initPipeline() (*ingest.Converter, error) {
	classifier, err := headers.NewClassifier(p.cfg.Classification.SystemTypePatterns)
	if err != nil {
		return nil, err
	}

	order := make([]failure.AltSource, 0, len(p.cfg.RetryDetection.Order))
	for _, s := range p.cfg.RetryDetection.Order {
		order = append(order, failure.AltSource(s))
	}
	detector, err := failure.NewRetryDetector(order)
	if err != nil {
		return nil, err
	}

	p.manager = failure.NewManager(failure.ManagerConfig{
		Store:              p.deps.Store,
		Publisher:          p.deps.Publisher,
		MaxConflictRetries: p.cfg.Workflow.MaxConflictRetries,
	})

	converter := ingest.NewConverter(ingest.Config{Classifier: classifier})
	converter.Register(models.IntakeError, failure.NewRecorder(p.manager))
	converter.Register(models.IntakeAudit, failure.NewRetrySuccessProcessor(p.manager, detector))
	return converter, nil
}

// initIntake creates one breaker, importer and worker pool per path
func (p *Processor) initIntake(converter *ingest.Converter, archive *storage.Archive, cancel context.CancelCauseFunc) {
	workers := map[models.IntakePath]int{
		models.IntakeAudit: p.cfg.Intake.AuditWorkers,
		models.IntakeError: p.cfg.Intake.ErrorWorkers,
	}

	for path, receiver := range p.deps.Receivers {
		breaker := resilience.NewBreaker(string(path), p.cfg.Breaker.Threshold, p.onTrip(cancel))
		importer := resilience.NewImporter(resilience.ImporterConfig{
			Path:     path,
			Pipeline: converter,
			Breaker:  breaker,
			Sink:     archive,
			Notifier: p.notifier,
		})
		p.breakers[path] = breaker
		p.pools[path] = worker.NewPool(worker.Config{
			Path:     path,
			Receiver: receiver,
			Handler:  importer,
			Workers:  workers[path],
		})
	}
}

// onTrip raises the critical condition and stops the host
func (p *Processor) onTrip(cancel context.CancelCauseFunc) resilience.TripFunc {
	return func(name string, consecutive int64, lastErr error) {
		metrics.BreakerTripsTotal.WithLabelValues(name).Inc()

		detail := ""
		if lastErr != nil {
			detail = lastErr.Error()
		}
		p.notifier.Notify(context.Background(), alerts.Alert{
			Severity: alerts.SeverityCritical,
			Title:    "Import breaker tripped, stopping intake",
			Detail:   detail,
			Fields: map[string]string{
				"path":        name,
				"consecutive": fmt.Sprintf("%d", consecutive),
			},
			RaisedAt: time.Now().UTC(),
		})
		cancel(fmt.Errorf("%w: %s path after %d consecutive failures", ErrCritical, name, consecutive))
	}
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	mux := http.NewServeMux()

	handlers.NewFailureHandler(p.manager).Register(mux)
	handlers.NewRecordHandler(p.deps.Records, p.journal).Register(mux)
	mux.Handle("GET /health", handlers.NewHealthHandler(p.deps.Checks))
	mux.HandleFunc("GET /stats", p.statsHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      middleware.Chain(mux, middleware.Logging, middleware.Recovery),
		ReadTimeout:  p.cfg.HTTP.ReadTimeout,
		WriteTimeout: p.cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (p *Processor) shutdown() {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	timeout := p.cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := p.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		for _, pool := range p.pools {
			pool.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker shutdown timeout, unacked messages will be redelivered")
	}

	p.wg.Wait()
	log.Info().Msg("processor stopped")
}

func (p *Processor) closeAll() {
	log := logger.WithComponent("processor")
	for i := len(p.deps.Closers) - 1; i >= 0; i-- {
		if err := p.deps.Closers[i].Close(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	p.deps.Closers = nil
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for path, pool := range p.pools {
				s := pool.Stats()
				log.Info().
					Str("path", string(path)).
					Uint64("processed", s.Processed).
					Uint64("redelivered", s.Redelivered).
					Uint64("receive_errors", s.ReceiveErrors).
					Int64("breaker_failures", p.breakers[path].Failures()).
					Msg("stats")
			}
		}
	}
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	Intake map[models.IntakePath]IntakeStats `json:"intake"`
}

// IntakeStats reports one intake path
type IntakeStats struct {
	worker.Stats
	BreakerFailures int64 `json:"breaker_failures"`
	BreakerTripped  bool  `json:"breaker_tripped"`
}

func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Intake: make(map[models.IntakePath]IntakeStats, len(p.pools))}
	for path, pool := range p.pools {
		b := p.breakers[path]
		resp.Intake[path] = IntakeStats{
			Stats:           pool.Stats(),
			BreakerFailures: b.Failures(),
			BreakerTripped:  b.Tripped(),
		}
	}
	handlers.WriteJSON(w, http.StatusOK, resp)
}

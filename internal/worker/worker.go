package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"faultline/internal/logger"
	"faultline/internal/metrics"
	"faultline/internal/models"
	"faultline/internal/resilience"
)

// Receiver delivers transport messages for one intake path.
type Receiver interface {
	Fetch(ctx context.Context) (*models.TransportMessage, error)
	Ack(ctx context.Context, msg *models.TransportMessage) error
}

// Handler imports one message. A nil error means the message may be acked.
type Handler interface {
	Handle(ctx context.Context, msg *models.TransportMessage) error
	FailedToReceive(ctx context.Context, err error)
}

// Pool runs concurrent receive loops against one Receiver
type Pool struct {
	path       models.IntakePath
	receiver   Receiver
	handler    Handler
	workers    int
	backoff    time.Duration
	maxBackoff time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc

	// Metrics
	processed   atomic.Uint64
	redelivered atomic.Uint64
	receiveErrs atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Path     models.IntakePath
	Receiver Receiver
	Handler  Handler
	Workers  int
	// Delay before handling a rejected message again; doubles up to MaxBackoff
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = 10 * time.Second
	}

	return &Pool{
		path:       cfg.Path,
		receiver:   cfg.Receiver,
		handler:    cfg.Handler,
		workers:    cfg.Workers,
		backoff:    cfg.RetryBackoff,
		maxBackoff: cfg.MaxBackoff,
	}
}

// Start launches the receive loops. They run until ctx is cancelled or
// Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	log := logger.WithComponent("worker_pool")
	log.Info().
		Str("path", string(p.path)).
		Int("workers", p.workers).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels the receive loops and waits for in-flight messages.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.Wait()
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
	log := logger.WithComponent("worker_pool")
	log.Info().Str("path", string(p.path)).Msg("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().
		Str("path", string(p.path)).
		Int("worker_id", id).
		Logger()
	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for ctx.Err() == nil {
		msg, err := p.receiver.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.receiveErrs.Add(1)
			p.handler.FailedToReceive(ctx, err)
			if !sleep(ctx, p.backoff) {
				return
			}
			continue
		}
		p.process(ctx, msg)
	}
}

// process hands msg to the handler until it is accepted. In-flight work is
// not cancelled by shutdown; a message still rejected at shutdown stays
// unacked and is redelivered by the transport.
func (p *Pool) process(ctx context.Context, msg *models.TransportMessage) {
	log := logger.WithComponent("worker").With().
		Str("path", string(p.path)).
		Str("native_id", msg.NativeID).
		Logger()

	work := context.WithoutCancel(ctx)
	backoff := p.backoff

	metrics.WorkerInFlight.WithLabelValues(string(p.path)).Inc()
	defer metrics.WorkerInFlight.WithLabelValues(string(p.path)).Dec()

	for {
		err := p.safeHandle(work, msg)
		if err == nil {
			if err := p.receiver.Ack(work, msg); err != nil {
				log.Error().Err(err).Msg("failed to ack message")
			}
			p.processed.Add(1)
			return
		}

		if errors.Is(err, resilience.ErrBreakerOpen) {
			<-ctx.Done()
			return
		}

		p.redelivered.Add(1)
		log.Warn().Err(err).Dur("backoff", backoff).Msg("message rejected, retrying")
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func (p *Pool) safeHandle(ctx context.Context, msg *models.TransportMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log := logger.WithComponent("worker")
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Redelivered:   p.redelivered.Load(),
		ReceiveErrors: p.receiveErrs.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed     uint64 `json:"processed"`
	Redelivered   uint64 `json:"redelivered"`
	ReceiveErrors uint64 `json:"receive_errors"`
}

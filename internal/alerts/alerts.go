// Package alerts raises operator-visible notifications: forensic records
// written, breaker trips, and other conditions that need a human.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"faultline/internal/logger"
	"faultline/internal/metrics"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-visible event.
type Alert struct {
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Detail   string            `json:"detail,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	RaisedAt time.Time         `json:"raised_at"`
}

// Notifier delivers alerts. Implementations must not block for long and
// must not fail the caller.
type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// Fanout delivers every alert to each notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, a Alert) {
	for _, n := range f {
		n.Notify(ctx, a)
	}
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, a Alert) {
	log := logger.WithComponent("alerts")

	var ev *zerolog.Event
	switch a.Severity {
	case SeverityCritical:
		ev = log.Error().Bool("critical", true)
	case SeverityWarning:
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	for k, v := range a.Fields {
		ev = ev.Str(k, v)
	}
	if a.Detail != "" {
		ev = ev.Str("detail", a.Detail)
	}
	ev.Msg(a.Title)
	metrics.AlertsRaisedTotal.WithLabelValues(string(a.Severity)).Inc()
}

// Journal keeps the most recent alerts in memory for the admin API.
type Journal struct {
	mu     sync.Mutex
	alerts []Alert
	next   int
	full   bool
}

// NewJournal keeps up to size alerts.
func NewJournal(size int) *Journal {
	if size <= 0 {
		size = 100
	}
	return &Journal{alerts: make([]Alert, size)}
}

func (j *Journal) Notify(ctx context.Context, a Alert) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts[j.next] = a
	j.next = (j.next + 1) % len(j.alerts)
	if j.next == 0 {
		j.full = true
	}
}

// Recent returns stored alerts, newest first.
func (j *Journal) Recent() []Alert {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.alerts)
	}
	out := make([]Alert, 0, n)
	for i := 1; i <= n; i++ {
		idx := (j.next - i + len(j.alerts)) % len(j.alerts)
		out = append(out, j.alerts[idx])
	}
	return out
}

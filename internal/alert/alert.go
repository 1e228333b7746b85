// Package alert notifies operators about system-side page failures, at most
// once per configured interval across all server processes.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// DefaultInterval is the minimum time between two alerts.
const DefaultInterval = time.Hour

// Message is one outbound alert.
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Sender delivers alerts. Mail delivery lives outside this service.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes alerts to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs msg at error level.
func (s LogSender) Send(ctx context.Context, msg Message) error {
	s.Logger.ErrorContext(ctx, "alert",
		"recipients", strings.Join(msg.Recipients, ","),
		"subject", msg.Subject,
		"body", msg.Body,
	)
	return nil
}

// Failure describes a failed page report.
type Failure struct {
	PageID        string
	PageName      string
	RequestID     string
	Engine        string
	EngineVersion string
	Kind          model.FailKind
	Traceback     string
	Hostname      string
	IPAddress     string
}

// Throttler sends an alert for a PROCESSING_FAILED report unless another
// alert went out within the interval.
type Throttler struct {
	store      store.Store
	sender     Sender
	recipients []string
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(t *Throttler) { t.now = now }
}

// NewThrottler creates a throttler. A non-positive interval selects
// DefaultInterval.
func NewThrottler(s store.Store, sender Sender, recipients []string, interval time.Duration, logger *slog.Logger, opts ...Option) *Throttler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Throttler{
		store:      s,
		sender:     sender,
		recipients: recipients,
		interval:   interval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Notify sends an alert for f if it is a system failure and the throttle
// window is open. It reports whether an alert was sent. NOT_FOUND and
// INVALID_FILE failures never alert.
func (t *Throttler) Notify(ctx context.Context, f Failure) (bool, error) {
	if !f.Kind.IsSystemFailure() {
		return false, nil
	}

	state, err := t.store.GetNotificationState(ctx)
	if err != nil {
		return false, fmt.Errorf("read notification state: %w", err)
	}

	now := t.now()
	claimed, err := t.store.ClaimNotification(ctx, now, t.interval)
	if err != nil {
		return false, fmt.Errorf("claim notification window: %w", err)
	}
	if !claimed {
		alertsTotal.WithLabelValues("suppressed").Inc()
		t.logger.Debug("alert suppressed", "page_id", f.PageID, "request_id", f.RequestID)
		return false, nil
	}

	if err := t.sender.Send(ctx, t.message(f)); err != nil {
		alertsTotal.WithLabelValues("failed").Inc()
		// Hand the window back so the next failure can alert.
		if _, rerr := t.store.ReleaseNotification(context.WithoutCancel(ctx), now, state.LastNotification); rerr != nil {
			t.logger.Error("release notification window", "error", rerr)
		}
		return false, fmt.Errorf("send alert: %w", err)
	}
	alertsTotal.WithLabelValues("sent").Inc()
	t.logger.Info("alert sent", "page_id", f.PageID, "request_id", f.RequestID)
	return true, nil
}

func (t *Throttler) message(f Failure) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Page %s (%s) of request %s failed.\n\n", f.PageName, f.PageID, f.RequestID)
	fmt.Fprintf(&b, "Engine: %s", f.Engine)
	if f.EngineVersion != "" {
		fmt.Fprintf(&b, " %s", f.EngineVersion)
	}
	b.WriteString("\n")
	if f.Hostname != "" || f.IPAddress != "" {
		fmt.Fprintf(&b, "Worker: %s %s\n", f.Hostname, f.IPAddress)
	}
	fmt.Fprintf(&b, "Further failures are suppressed for %s.\n\n", t.interval)
	b.WriteString(f.Traceback)

	return Message{
		Recipients: t.recipients,
		Subject:    fmt.Sprintf("[scribe] %s on engine %s", f.Kind, f.Engine),
		Body:       b.String(),
	}
}

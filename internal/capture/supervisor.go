package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
	"firestige.xyz/meter/internal/metrics"
)

const (
	DefaultMinBackoff = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

// EventKind names a supervisor lifecycle event.
type EventKind string

const (
	EventError     EventKind = "capture_error"
	EventRestarted EventKind = "capture_restarted"
)

// Listener receives supervisor lifecycle events. info is an ErrorInfo for
// EventError and a RestartInfo for EventRestarted.
type Listener func(kind EventKind, info any)

// Error stages.
// ReasonEnded is reported when a source stops without error or request.
const ReasonEnded = "source ended"

const (
	StageCapture = "capture"
	StageStream  = "stream"
)

// ErrorInfo is the payload of a capture_error notification.
type ErrorInfo struct {
	Source  string `json:"source"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
	RetryMs int64  `json:"retry_ms,omitempty"`
}

// RestartInfo is the payload of a capture_restarted notification.
type RestartInfo struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Supervisor keeps a Capturer running: it reopens the source after
// failures with exponential backoff and on explicit restart requests.
type Supervisor struct {
	src      Capturer
	listener Listener
	restart  *Watch[string]

	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewSupervisor creates a supervisor for src. listener may be nil.
func NewSupervisor(src Capturer, cfg config.RestartConfig, listener Listener) *Supervisor {
	if listener == nil {
		listener = func(EventKind, any) {}
	}
	s := &Supervisor{
		src:        src,
		listener:   listener,
		restart:    NewWatch[string](),
		minBackoff: config.Duration(cfg.MinBackoff, DefaultMinBackoff),
		maxBackoff: config.Duration(cfg.MaxBackoff, DefaultMaxBackoff),
		logger:     slog.Default().With("component", "capture", "source", src.Name()),
	}
	if s.maxBackoff < s.minBackoff {
		s.maxBackoff = s.minBackoff
	}
	return s
}

// RequestRestart asks the running capture to close its handle and reopen.
func (s *Supervisor) RequestRestart(reason string) {
	s.restart.Set(reason)
}

// Stats returns the source counters.
func (s *Supervisor) Stats() Stats {
	return s.src.Stats()
}

// Run captures into out until ctx is cancelled. It returns nil on
// cancellation and when a finite source is exhausted. Failures of a finite
// source are returned; everything else is retried with backoff.
func (s *Supervisor) Run(ctx context.Context, out chan<- core.RawPacket) error {
	backoff := s.minBackoff
	name := s.src.Name()

	for {
		if ctx.Err() != nil {
			return nil
		}

		// taken before Open so a request made while opening is not lost
		changed := s.restart.Changed()

		err := s.src.Open()
		if err == nil {
			err = s.capture(ctx, changed, out)
			s.src.Close()

			if errors.Is(err, ErrExhausted) {
				return nil
			}
			if err == nil {
				if ctx.Err() != nil {
					return nil
				}
				if requested(changed) {
					reason, _ := s.restart.Load()
					s.logger.Info("capture restarted", "reason", reason)
					metrics.CaptureRestartsTotal.WithLabelValues("requested").Inc()
					s.listener(EventRestarted, RestartInfo{Source: name, Reason: reason})
					backoff = s.minBackoff
					continue
				}
				s.logger.Warn("capture ended, reopening", "retry_in", s.minBackoff)
				metrics.CaptureRestartsTotal.WithLabelValues("ended").Inc()
				s.listener(EventRestarted, RestartInfo{Source: name, Reason: ReasonEnded})
				backoff = s.minBackoff
				if !s.pause(ctx, changed, backoff) {
					return nil
				}
				continue
			}
		}

		if isFinite(s.src) {
			return err
		}

		s.logger.Error("capture failed", "error", err, "retry_in", backoff)
		metrics.CaptureRestartsTotal.WithLabelValues("error").Inc()
		s.listener(EventError, ErrorInfo{
			Source:  name,
			Stage:   StageCapture,
			Error:   err.Error(),
			RetryMs: backoff.Milliseconds(),
		})

		if !s.pause(ctx, changed, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// requested reports whether the restart watch fired.
func requested(changed <-chan struct{}) bool {
	select {
	case <-changed:
		return true
	default:
		return false
	}
}

// capture runs one capture session under a child context cancelled by a
// restart request.
func (s *Supervisor) capture(ctx context.Context, changed <-chan struct{}, out chan<- core.RawPacket) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-changed:
			cancel()
		case <-stop:
		}
	}()

	before := s.src.Stats()
	err := s.src.Capture(runCtx, out)
	after := s.src.Stats()
	if after.Dropped > before.Dropped {
		metrics.CaptureDropsTotal.WithLabelValues(s.src.Name()).Add(float64(after.Dropped - before.Dropped))
	}
	return err
}

// pause waits out d, returning early on a restart request. It reports false
// once ctx is done.
func (s *Supervisor) pause(ctx context.Context, changed <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-changed:
	case <-timer.C:
	}
	return true
}

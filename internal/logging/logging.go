package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// NewLogger initialises an slog.Logger with the provided level string.
func NewLogger(levelStr string) *slog.Logger {
	level := parseLevel(levelStr)
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// InitSentry configures the global Sentry client. The returned flush must be
// called before exit.
func InitSentry(dsn, env string) (func(), error) {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// WithSentry returns a logger that also reports error records to Sentry.
func WithSentry(logger *slog.Logger) *slog.Logger {
	return slog.New(NewSentryHandler(logger.Handler(), slog.LevelError, func(e *sentry.Event) {
		sentry.CaptureEvent(e)
	}))
}

// SentryHandler forwards records at or above level to capture and passes
// every record on to next.
type SentryHandler struct {
	next    slog.Handler
	level   slog.Level
	capture func(*sentry.Event)
	attrs   []slog.Attr
}

// NewSentryHandler wraps next.
func NewSentryHandler(next slog.Handler, level slog.Level, capture func(*sentry.Event)) *SentryHandler {
	return &SentryHandler{next: next, level: level, capture: capture}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.next.Enabled(ctx, level)
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level && h.capture != nil {
		h.capture(h.event(r))
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &SentryHandler{next: h.next.WithAttrs(attrs), level: h.level, capture: h.capture, attrs: merged}
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	return &SentryHandler{next: h.next.WithGroup(name), level: h.level, capture: h.capture, attrs: h.attrs}
}

func (h *SentryHandler) event(r slog.Record) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	if r.Level < slog.LevelError {
		event.Level = sentry.LevelWarning
	}
	event.Message = r.Message
	event.Timestamp = r.Time
	event.Extra = map[string]interface{}{}
	event.Tags = map[string]string{}

	add := func(a slog.Attr) bool {
		if a.Key == "component" {
			event.Tags["component"] = a.Value.String()
			return true
		}
		event.Extra[a.Key] = a.Value.String()
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)
	return event
}

func parseLevel(levelStr string) slog.Leveler {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

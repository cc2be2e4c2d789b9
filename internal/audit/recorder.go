// Package audit records compliance events. Writes always go through the
// privileged data-access handle so the acting user's row-level scope can
// never suppress them, and failures never reach the caller.
package audit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lumen.studio/internal/ids"
	"lumen.studio/internal/obs"
)

const writeTimeout = 5 * time.Second

var errNoWriter = errors.New("audit: no event writer configured")

// EventWriter appends compliance events. Only the privileged handle
// implements it.
type EventWriter interface {
	InsertComplianceEvent(ctx context.Context, ev Event) error
}

// EventReader lists compliance events visible to the caller.
type EventReader interface {
	ListComplianceEvents(ctx context.Context, f Filter) ([]Event, error)
}

// WriterSource mints a privileged writer for the current request.
type WriterSource interface {
	EventWriter(ctx context.Context) (EventWriter, error)
}

// RequestMeta is the request-derived provenance of an event.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// MetaFromRequest reads provenance from the transport, never from the body.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{IPAddress: ClientIP(r), UserAgent: r.UserAgent()}
}

// ClientIP returns the first X-Forwarded-For hop, else the socket address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Recorder writes compliance events on a best-effort basis.
type Recorder struct {
	writers WriterSource
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures Recorder.
type Option func(*Recorder)

// WithClock overrides the creation timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(writers WriterSource, log zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		writers: writers,
		log:     log.With().Str("component", "compliance_recorder").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes exactly one event per call. The write is awaited but its
// outcome is only logged; callers de-duplicate retries before calling.
func (r *Recorder) Record(ctx context.Context, ev Event, meta RequestMeta) {
	created := r.now()
	ev.ID = ids.NewAt(created)
	ev.CreatedAt = created
	ev.IPAddress = meta.IPAddress
	ev.UserAgent = meta.UserAgent
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}

	if err := ev.Validate(); err != nil {
		r.fail(ctx, ev, "rejected", err)
		return
	}
	if r.writers == nil {
		r.fail(ctx, ev, "failed", errNoWriter)
		return
	}

	// A client hanging up must not cancel the audit write.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	writer, err := r.writers.EventWriter(wctx)
	if err != nil {
		r.fail(ctx, ev, "failed", err)
		return
	}
	if err := writer.InsertComplianceEvent(wctx, ev); err != nil {
		r.fail(ctx, ev, "failed", err)
		return
	}
	obs.ComplianceEventWrites.WithLabelValues(string(ev.EventCategory), "ok").Inc()
	r.log.Debug().
		Str("request_id", obs.RequestIDFromContext(ctx)).
		Str("event_id", ev.ID).
		Str("event_type", ev.EventType).
		Msg("compliance event recorded")
}

func (r *Recorder) fail(ctx context.Context, ev Event, result string, err error) {
	obs.ComplianceEventWrites.WithLabelValues(string(ev.EventCategory), result).Inc()
	r.log.Warn().
		Err(err).
		Str("kind", "audit_write").
		Str("request_id", obs.RequestIDFromContext(ctx)).
		Str("entity_type", ev.EntityType).
		Str("entity_id", ev.EntityID).
		Str("event_type", ev.EventType).
		Str("event_category", string(ev.EventCategory)).
		Msg("compliance event not recorded")
}

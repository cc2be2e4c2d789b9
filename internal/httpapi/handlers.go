package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/obs"
	"lumen.studio/internal/studio"
)

// Pinger is implemented by the datastore factory.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports whether the backing store answers.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// CredentialResolver turns request headers into a credential.
type CredentialResolver interface {
	Resolve(ctx context.Context, h http.Header) auth.Credential
}

// Recorder appends compliance events.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event, meta audit.RequestMeta)
}

// EventReaders mints the caller's row-scoped view of the audit trail.
type EventReaders interface {
	EventReader(ctx context.Context, cred auth.Credential) (audit.EventReader, error)
}

// Options wires the HTTP layer.
type Options struct {
	Resolver      CredentialResolver
	Studio        *studio.Service
	Recorder      Recorder
	Events        EventReaders
	Ready         ReadyProbe
	Logger        zerolog.Logger
	Version       string
	ServiceHeader string
	MaxBodyBytes  int64
	RateBurst     int
	RatePerSecond int
}

// API is the HTTP surface of the gateway.
type API struct {
	mux        *http.ServeMux
	handler    http.Handler
	resolver   CredentialResolver
	studio     *studio.Service
	recorder   Recorder
	events     EventReaders
	readyProbe ReadyProbe
	log        zerolog.Logger
	version    string
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		resolver:   opts.Resolver,
		studio:     opts.Studio,
		recorder:   opts.Recorder,
		events:     opts.Events,
		readyProbe: opts.Ready,
		log:        opts.Logger,
		version:    opts.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/me", a.Me)
	a.mux.HandleFunc("/v1/studio/time-logs", a.timeLogs)
	a.mux.HandleFunc("/v1/contracts/", a.contractByID)
	a.mux.HandleFunc("/v1/compliance/events", a.complianceEvents)
	a.mux.HandleFunc("/v1/admin/compliance/events", a.adminComplianceEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	burst, perSecond := opts.RateBurst, opts.RatePerSecond
	if burst <= 0 || perSecond <= 0 {
		burst, perSecond = 20, 10
	}
	serviceHeader := opts.ServiceHeader
	if serviceHeader == "" {
		serviceHeader = "X-Service-Key"
	}

	var h http.Handler = a.mux
	h = a.withCredential(h)
	h = MaxBodyBytes(h, maxBody)
	h = RateLimit(h, burst, perSecond)
	h = CORS(serviceHeader)(h)
	h = SecurityHeaders(h)
	h = Recover(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	a.handler = obs.Instrument(h)
	return a
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	return a.handler
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Me returns the resolved identity of a user caller.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	cred := credential(r)
	if d := auth.Check(cred, auth.RequireAuthenticated(false)); !d.Allowed {
		handleError(w, r, d.Err())
		return
	}
	writeJSON(w, http.StatusOK, cred.Identity)
}

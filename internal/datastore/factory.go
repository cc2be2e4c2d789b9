// Package datastore mints the two per-request data-access handles. A
// Privileged handle runs as the store's RLS-bypassing role and is the only
// type that can read profiles or append compliance events. A Scoped handle
// forwards the caller's token and claims so row-level policies evaluate
// against the caller.
package datastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"lumen.studio/internal/audit"
	"lumen.studio/internal/auth"
	"lumen.studio/internal/config"
	"lumen.studio/internal/studio"
)

const (
	KindPrivileged = "privileged"
	KindScoped     = "scoped"
)

var (
	// ErrConfig is returned when a handle cannot be built from configuration.
	ErrConfig = errors.New("datastore: incomplete configuration")
	// ErrScopedCredential is returned when a scoped handle is requested for
	// anything but a user credential carrying a token and subject.
	ErrScopedCredential = errors.New("datastore: scoped handle requires a user credential")
	ErrNotFound         = studio.ErrNotFound
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(cfg config.StoreConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%w: dsn", ErrConfig)
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Factory holds only the pool and role names; handles are cheap and are
// minted per request.
type Factory struct {
	db             *sql.DB
	privilegedRole string
	scopedRole     string
}

func NewFactory(db *sql.DB, cfg config.StoreConfig) (*Factory, error) {
	switch {
	case db == nil:
		return nil, fmt.Errorf("%w: database handle", ErrConfig)
	case strings.TrimSpace(cfg.PrivilegedRole) == "":
		return nil, fmt.Errorf("%w: privileged role", ErrConfig)
	case strings.TrimSpace(cfg.ScopedRole) == "":
		return nil, fmt.Errorf("%w: scoped role", ErrConfig)
	}
	return &Factory{
		db:             db,
		privilegedRole: strings.TrimSpace(cfg.PrivilegedRole),
		scopedRole:     strings.TrimSpace(cfg.ScopedRole),
	}, nil
}

// Ping checks store connectivity for readiness probes.
func (f *Factory) Ping(ctx context.Context) error {
	return f.db.PingContext(ctx)
}

func (f *Factory) Privileged(_ context.Context) (*Privileged, error) {
	return &Privileged{handle{
		db:       f.db,
		kind:     KindPrivileged,
		settings: []setting{{"role", f.privilegedRole}},
	}}, nil
}

func (f *Factory) Scoped(_ context.Context, cred auth.Credential) (*Scoped, error) {
	if !cred.IsUser() || cred.Token == "" || cred.Identity.SubjectID == "" {
		return nil, ErrScopedCredential
	}
	claims, err := json.Marshal(scopedClaims{
		Subject: cred.Identity.SubjectID,
		Email:   cred.Identity.Email,
		Role:    f.scopedRole,
		AppRole: string(cred.Identity.Role),
	})
	if err != nil {
		return nil, fmt.Errorf("datastore: encode claims: %w", err)
	}
	return &Scoped{handle{
		db:   f.db,
		kind: KindScoped,
		settings: []setting{
			{"role", f.scopedRole},
			{"request.jwt.claims", string(claims)},
			{"request.jwt", cred.Token},
		},
	}}, nil
}

// Profiles satisfies auth.ProfileSource.
func (f *Factory) Profiles(ctx context.Context) (auth.ProfileReader, error) {
	p, err := f.Privileged(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EventWriter satisfies audit.WriterSource.
func (f *Factory) EventWriter(ctx context.Context) (audit.EventWriter, error) {
	p, err := f.Privileged(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// EventReader returns the caller's scoped view of compliance events.
func (f *Factory) EventReader(ctx context.Context, cred auth.Credential) (audit.EventReader, error) {
	s, err := f.Scoped(ctx, cred)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *Factory) PrivilegedStore(ctx context.Context) (studio.Store, error) {
	p, err := f.Privileged(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Factory) ScopedStore(ctx context.Context, cred auth.Credential) (studio.Store, error) {
	s, err := f.Scoped(ctx, cred)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// scopedClaims mirror what row-level policies read via
// current_setting('request.jwt.claims').
type scopedClaims struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"`
	AppRole string `json:"app_role"`
}

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumen.studio/internal/config"
	"lumen.studio/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	ReasonMissingCredentials = "missing credentials"
	ReasonInvalidToken       = "invalid or expired token"
	ReasonUnavailable        = "authentication unavailable"
)

// ProfileReader looks up the stored profile for a subject. Only the
// privileged data-access handle implements it.
type ProfileReader interface {
	GetProfile(ctx context.Context, subjectID string) (Profile, error)
}

// ProfileSource mints a privileged profile reader for the current request.
type ProfileSource interface {
	Profiles(ctx context.Context) (ProfileReader, error)
}

// Resolver turns request headers into a Credential.
type Resolver struct {
	serviceHeader string
	serviceKey    []byte
	verifier      Verifier
	profiles      ProfileSource
	log           zerolog.Logger
}

// NewResolver wires the resolver. An empty service key disables the service
// credential path.
func NewResolver(cfg config.AuthConfig, verifier Verifier, profiles ProfileSource, log zerolog.Logger) (*Resolver, error) {
	if verifier == nil {
		return nil, errors.New("auth: verifier is required")
	}
	if profiles == nil {
		return nil, errors.New("auth: profile source is required")
	}
	header := strings.TrimSpace(cfg.ServiceKeyHeader)
	if header == "" {
		return nil, errors.New("auth: service key header is required")
	}
	return &Resolver{
		serviceHeader: header,
		serviceKey:    []byte(cfg.ServiceKey),
		verifier:      verifier,
		profiles:      profiles,
		log:           log.With().Str("component", "credential_resolver").Logger(),
	}, nil
}

// Resolve never fails: every problem degrades to an Unauthenticated
// credential with a caller-safe reason.
func (r *Resolver) Resolve(ctx context.Context, h http.Header) Credential {
	cred := r.resolve(ctx, h)
	obs.CredentialResolutions.WithLabelValues(cred.Class.String()).Inc()
	return cred
}

func (r *Resolver) resolve(ctx context.Context, h http.Header) Credential {
	if r.serviceKeyMatches(h.Get(r.serviceHeader)) {
		return NewServiceCredential()
	}

	token, ok := BearerToken(h.Get(authHeader))
	if !ok {
		return NewUnauthenticated(ReasonMissingCredentials)
	}

	verified, err := r.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			r.log.Debug().Err(err).Msg("bearer token rejected")
			return NewUnauthenticated(ReasonInvalidToken)
		}
		r.log.Error().Err(err).Str("kind", string(KindUpstream)).Msg("identity provider verification failed")
		return NewUnauthenticated(ReasonUnavailable)
	}

	subject := canonicalSubject(verified.SubjectID)
	identity := Identity{SubjectID: subject, Email: verified.Email, Role: RoleUser}

	profiles, err := r.profiles.Profiles(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(KindUpstream)).Msg("privileged handle unavailable for profile lookup")
		return NewUnauthenticated(ReasonUnavailable)
	}
	profile, err := profiles.GetProfile(ctx, subject)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		r.log.Warn().Str("subject_id", subject).Str("fallback_role", string(RoleUser)).
			Msg("no profile for subject, defaulting role")
	case err != nil:
		r.log.Error().Err(err).Str("kind", string(KindUpstream)).Str("subject_id", subject).
			Msg("profile lookup failed")
		return NewUnauthenticated(ReasonUnavailable)
	default:
		role, known := ParseRole(profile.Role)
		if !known {
			r.log.Warn().Str("subject_id", subject).Str("stored_role", profile.Role).
				Str("fallback_role", string(RoleUser)).Msg("unknown profile role, defaulting role")
		}
		identity.Role = role
		identity.PrimaryDivision = profile.PrimaryDivision
	}

	return NewUserCredential(identity, token)
}

// canonicalSubject lower-cases UUID subjects into the form the store uses
// for owner ids. Other subjects pass through unchanged.
func canonicalSubject(raw string) string {
	raw = strings.TrimSpace(raw)
	if id, err := uuid.Parse(raw); err == nil {
		return id.String()
	}
	return raw
}

func (r *Resolver) serviceKeyMatches(presented string) bool {
	if len(r.serviceKey) == 0 || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), r.serviceKey) == 1
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

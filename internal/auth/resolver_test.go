package auth

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen.studio/internal/config"
)

type stubProfiles struct {
	profiles map[string]Profile
	err      error
	calls    int
}

func (s *stubProfiles) Profiles(context.Context) (ProfileReader, error) { return s, nil }

func (s *stubProfiles) GetProfile(_ context.Context, subjectID string) (Profile, error) {
	s.calls++
	if s.err != nil {
		return Profile{}, s.err
	}
	p, ok := s.profiles[subjectID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

type failingSource struct{}

func (failingSource) Profiles(context.Context) (ProfileReader, error) {
	return nil, errors.New("datastore: not configured")
}

type stubVerifier struct{ err error }

func (s stubVerifier) Verify(context.Context, string) (VerifiedToken, error) {
	if s.err != nil {
		return VerifiedToken{}, s.err
	}
	return VerifiedToken{SubjectID: "user-1", Email: "user-1@example.com"}, nil
}

func newTestResolver(t *testing.T, v Verifier, src ProfileSource) (*Resolver, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	r, err := NewResolver(config.AuthConfig{ServiceKeyHeader: "X-Service-Key", ServiceKey: "svc-secret"},
		v, src, zerolog.New(&logs))
	require.NoError(t, err)
	return r, &logs
}

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

func mustVerifier(t *testing.T) Verifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, "", "")
	require.NoError(t, err)
	return v
}

func TestResolveServiceCredential(t *testing.T) {
	profiles := &stubProfiles{}
	r, _ := newTestResolver(t, mustVerifier(t), profiles)

	cred := r.Resolve(context.Background(), headers("X-Service-Key", "svc-secret"))
	assert.Equal(t, ServiceCredential, cred.Class)
	assert.Nil(t, cred.Identity)
	assert.Zero(t, profiles.calls)
}

func TestResolveWrongServiceKeyFallsThroughToBearer(t *testing.T) {
	profiles := &stubProfiles{profiles: map[string]Profile{"user-1": {SubjectID: "user-1", Role: "creator"}}}
	r, _ := newTestResolver(t, mustVerifier(t), profiles)

	cred := r.Resolve(context.Background(), headers("X-Service-Key", "svc-secre"))
	assert.Equal(t, Unauthenticated, cred.Class)

	token := signHS256(t, testSecret, userClaims("user-1", time.Hour))
	cred = r.Resolve(context.Background(), headers("X-Service-Key", "wrong", "Authorization", "Bearer "+token))
	assert.Equal(t, UserCredential, cred.Class)
}

func TestResolveEmptyServiceKeyDisablesServicePath(t *testing.T) {
	r, err := NewResolver(config.AuthConfig{ServiceKeyHeader: "X-Service-Key"}, mustVerifier(t), &stubProfiles{}, zerolog.Nop())
	require.NoError(t, err)
	cred := r.Resolve(context.Background(), headers("X-Service-Key", ""))
	assert.Equal(t, Unauthenticated, cred.Class)
	assert.Equal(t, ReasonMissingCredentials, cred.Reason)
}

func TestResolveUserCredentialWithProfile(t *testing.T) {
	profiles := &stubProfiles{profiles: map[string]Profile{
		"user-1": {SubjectID: "user-1", Role: "Admin", PrimaryDivision: "studio"},
	}}
	r, _ := newTestResolver(t, mustVerifier(t), profiles)
	token := signHS256(t, testSecret, userClaims("user-1", time.Hour))

	cred := r.Resolve(context.Background(), headers("Authorization", "bearer "+token))
	require.Equal(t, UserCredential, cred.Class)
	assert.Equal(t, token, cred.Token)
	assert.Equal(t, Identity{SubjectID: "user-1", Email: "user-1@example.com", Role: RoleAdmin, PrimaryDivision: "studio"}, *cred.Identity)
}

func TestResolveMissingProfileDefaultsToUserAndLogs(t *testing.T) {
	r, logs := newTestResolver(t, mustVerifier(t), &stubProfiles{})
	token := signHS256(t, testSecret, userClaims("user-9", time.Hour))

	cred := r.Resolve(context.Background(), headers("Authorization", "Bearer "+token))
	require.True(t, cred.IsUser())
	assert.Equal(t, RoleUser, cred.Identity.Role)
	assert.Contains(t, logs.String(), "defaulting role")
	assert.Contains(t, logs.String(), `"level":"warn"`)
}

func TestResolveUnknownRoleDefaultsToUserAndLogs(t *testing.T) {
	profiles := &stubProfiles{profiles: map[string]Profile{"user-1": {SubjectID: "user-1", Role: "talent"}}}
	r, logs := newTestResolver(t, mustVerifier(t), profiles)
	token := signHS256(t, testSecret, userClaims("user-1", time.Hour))

	cred := r.Resolve(context.Background(), headers("Authorization", "Bearer "+token))
	assert.Equal(t, RoleUser, cred.Identity.Role)
	assert.Contains(t, logs.String(), `"stored_role":"talent"`)
}

func TestResolveExpiredTokenSkipsProfileLookup(t *testing.T) {
	profiles := &stubProfiles{}
	r, _ := newTestResolver(t, mustVerifier(t), profiles)
	token := signHS256(t, testSecret, userClaims("user-1", -time.Minute))

	cred := r.Resolve(context.Background(), headers("Authorization", "Bearer "+token))
	assert.Equal(t, Unauthenticated, cred.Class)
	assert.Equal(t, ReasonInvalidToken, cred.Reason)
	assert.Zero(t, profiles.calls)
}

func TestResolveUpstreamFailuresDegradeToUnauthenticated(t *testing.T) {
	token := signHS256(t, testSecret, userClaims("user-1", time.Hour))
	h := headers("Authorization", "Bearer "+token)

	r, logs := newTestResolver(t, stubVerifier{err: errors.New("dial tcp: connection refused")}, &stubProfiles{})
	cred := r.Resolve(context.Background(), h)
	assert.Equal(t, Unauthenticated, cred.Class)
	assert.Equal(t, ReasonUnavailable, cred.Reason)
	assert.Contains(t, logs.String(), `"kind":"upstream"`)

	r, _ = newTestResolver(t, stubVerifier{}, &stubProfiles{err: errors.New("connection reset")})
	assert.Equal(t, Unauthenticated, r.Resolve(context.Background(), h).Class)

	r, _ = newTestResolver(t, stubVerifier{}, failingSource{})
	assert.Equal(t, Unauthenticated, r.Resolve(context.Background(), h).Class)
}

func TestResolveCanonicalisesUUIDSubject(t *testing.T) {
	const owner = "7d9c2f40-1b2a-4c3d-8e4f-000000000002"
	profiles := &stubProfiles{profiles: map[string]Profile{owner: {SubjectID: owner, Role: "admin"}}}
	r, _ := newTestResolver(t, mustVerifier(t), profiles)
	token := signHS256(t, testSecret, userClaims("7D9C2F40-1B2A-4C3D-8E4F-000000000002", time.Hour))

	cred := r.Resolve(context.Background(), headers("Authorization", "Bearer "+token))
	require.Equal(t, UserCredential, cred.Class)
	assert.Equal(t, owner, cred.SubjectID())
	assert.Equal(t, RoleAdmin, cred.Identity.Role)

	d := Check(cred, RequireOwnershipOrService(Resource{Type: "contract", ID: "c-1", Owners: []string{owner}}))
	assert.True(t, d.Allowed)
}

func TestResolveMalformedHeaders(t *testing.T) {
	r, _ := newTestResolver(t, mustVerifier(t), &stubProfiles{})
	for _, value := range []string{"", "Basic dXNlcjpwYXNz", "Bearer", "Bearer    ", "Token abc"} {
		cred := r.Resolve(context.Background(), headers("Authorization", value))
		assert.Equal(t, Unauthenticated, cred.Class, value)
	}
}

func TestNewResolverRequiresCollaborators(t *testing.T) {
	_, err := NewResolver(config.AuthConfig{ServiceKeyHeader: "X"}, nil, &stubProfiles{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewResolver(config.AuthConfig{ServiceKeyHeader: "X"}, mustVerifier(t), nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewResolver(config.AuthConfig{}, mustVerifier(t), &stubProfiles{}, zerolog.Nop())
	assert.Error(t, err)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"lumen.studio/internal/config"
)

// VerifiedToken is what the identity provider vouches for.
type VerifiedToken struct {
	SubjectID string
	Email     string
}

// Verifier checks a bearer token against the identity provider. It returns
// ErrInvalidToken for tokens that are malformed, expired or badly signed and
// any other error for transport failures.
type Verifier interface {
	Verify(ctx context.Context, token string) (VerifiedToken, error)
}

// NewVerifier builds the verifier selected by cfg.Verifier.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	switch cfg.Verifier {
	case config.VerifierJWT:
		return NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	case config.VerifierOIDC:
		return NewOIDCVerifier(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	default:
		return nil, fmt.Errorf("auth: unknown verifier %q", cfg.Verifier)
	}
}

// tokenClaims are the claims issued by the identity provider.
type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with the provider's shared JWT
// secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier returns a verifier for tokens signed with secret. issuer and
// audience are enforced when non-empty.
func NewJWTVerifier(secret, issuer, audience string, opts ...jwt.ParserOption) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is not configured")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}
	parserOpts = append(parserOpts, opts...)
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (VerifiedToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return VerifiedToken{}, ErrInvalidToken
	}
	var claims tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return VerifiedToken{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return VerifiedToken{}, ErrInvalidToken
	}
	return VerifiedToken{SubjectID: claims.Subject, Email: claims.Email}, nil
}

// OIDCVerifier validates ID tokens issued by an OpenID Connect provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the provider at issuerURL. Discovery needs the
// network; it runs once at start-up. ctx bounds the key set's fetches, so
// it must live as long as the verifier.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	if issuerURL == "" || clientID == "" {
		return nil, errors.New("auth: oidc issuer url and client id are required")
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: discover oidc provider %s: %w", issuerURL, err)
	}
	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil || meta.JWKSURL == "" {
		return nil, fmt.Errorf("auth: oidc provider %s publishes no jwks_uri", issuerURL)
	}
	return NewOIDCVerifierFromKeySet(issuerURL, clientID, oidc.NewRemoteKeySet(ctx, meta.JWKSURL), nil), nil
}

// NewOIDCVerifierFromKeySet builds a verifier without discovery.
func NewOIDCVerifierFromKeySet(issuerURL, clientID string, keys oidc.KeySet, now func() time.Time) *OIDCVerifier {
	return &OIDCVerifier{verifier: oidc.NewVerifier(issuerURL, fetchTrackingKeySet{keys}, &oidc.Config{ClientID: clientID, Now: now})}
}

// fetchTrackingKeySet reports key fetch failures out of band. go-oidc
// flattens key set errors into a string, so they cannot be matched on the
// error returned from IDTokenVerifier.Verify.
type fetchTrackingKeySet struct {
	keys oidc.KeySet
}

type fetchFailureKey struct{}

// keyFetchFailure is filled in when the key set could not be fetched.
type keyFetchFailure struct {
	err error
}

func (k fetchTrackingKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.keys.VerifySignature(ctx, jwt)
	if err != nil && isKeyFetchError(err) {
		if f, ok := ctx.Value(fetchFailureKey{}).(*keyFetchFailure); ok {
			f.err = err
		}
	}
	return payload, err
}

// isKeyFetchError matches RemoteKeySet's "fetching keys" wrapper, the only
// key set error that is a transport failure rather than a bad token.
func isKeyFetchError(err error) bool {
	return errors.Is(err, ErrUpstream) || strings.HasPrefix(err.Error(), "fetching keys")
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (VerifiedToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return VerifiedToken{}, ErrInvalidToken
	}
	failure := &keyFetchFailure{}
	idToken, err := v.verifier.Verify(context.WithValue(ctx, fetchFailureKey{}, failure), token)
	if err != nil {
		if failure.err != nil {
			return VerifiedToken{}, fmt.Errorf("%w: oidc keys: %v", ErrUpstream, failure.err)
		}
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return VerifiedToken{}, ErrInvalidToken
		}
		return VerifiedToken{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return VerifiedToken{}, ErrInvalidToken
	}
	if idToken.Subject == "" {
		return VerifiedToken{}, ErrInvalidToken
	}
	return VerifiedToken{SubjectID: idToken.Subject, Email: claims.Email}, nil
}

package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"lumen.studio/internal/auth"
)

// Public endpoints skip credential resolution entirely so probes never
// reach the identity provider or the profile store.
var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
}

// withCredential resolves the caller once per request. It never rejects:
// handlers apply the gates their operation needs.
func (a *API) withCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) || a.resolver == nil {
			next.ServeHTTP(w, r)
			return
		}
		cred := a.resolver.Resolve(r.Context(), r.Header)
		ctx := auth.ContextWithCredential(r.Context(), cred)

		l := zerolog.Ctx(ctx).With().Str("credential", cred.Class.String())
		if sub := cred.SubjectID(); sub != "" {
			l = l.Str("subject_id", sub)
		}
		logger := l.Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
	})
}

// credential returns the caller's credential, Unauthenticated if none.
func credential(r *http.Request) auth.Credential {
	cred, _ := auth.CredentialFromContext(r.Context())
	return cred
}

// requireCredential rejects anonymous callers before any body is read.
func requireCredential(w http.ResponseWriter, r *http.Request) (auth.Credential, bool) {
	cred := credential(r)
	if cred.Class == auth.Unauthenticated {
		reason := cred.Reason
		if reason == "" {
			reason = auth.ReasonMissingCredentials
		}
		writeError(w, r, http.StatusUnauthorized, reason)
		return cred, false
	}
	return cred, true
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

package auth

import "context"

type credentialContextKey struct{}

// ContextWithCredential attaches the resolved credential to the context.
func ContextWithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey{}, &cred)
}

// CredentialFromContext returns the resolved credential. A context without
// one yields an Unauthenticated credential and false.
func CredentialFromContext(ctx context.Context) (Credential, bool) {
	if ctx == nil {
		return NewUnauthenticated("missing credentials"), false
	}
	v, ok := ctx.Value(credentialContextKey{}).(*Credential)
	if !ok || v == nil {
		return NewUnauthenticated("missing credentials"), false
	}
	return *v, true
}

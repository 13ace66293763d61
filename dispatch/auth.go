package dispatch

import (
	"context"
	"crypto/subtle"

	kerrors "github.com/vinayprograms/taskkit/errors"
)

// AnonymousCaller is the caller name given to token-less requests when
// anonymous access is allowed.
const AnonymousCaller = "anonymous"

// Authorizer resolves the token carried by a request to a caller name.
// A rejected token yields an UNAUTHORIZED error.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (string, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, token string) (string, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// TokenAuthorizer checks tokens against a static token -> caller table.
type TokenAuthorizer struct {
	tokens         map[string]string
	allowAnonymous bool
}

// NewTokenAuthorizer copies tokens. With allowAnonymous, an empty token is
// accepted as AnonymousCaller; a wrong token is still rejected.
func NewTokenAuthorizer(tokens map[string]string, allowAnonymous bool) *TokenAuthorizer {
	copied := make(map[string]string, len(tokens))
	for tok, caller := range tokens {
		copied[tok] = caller
	}
	return &TokenAuthorizer{tokens: copied, allowAnonymous: allowAnonymous}
}

// Authorize implements Authorizer.
func (a *TokenAuthorizer) Authorize(_ context.Context, token string) (string, error) {
	if token == "" {
		if a.allowAnonymous {
			return AnonymousCaller, nil
		}
		return "", kerrors.Unauthorized("missing token")
	}

	// Compare against every entry so timing does not depend on which
	// token matched.
	var caller string
	for tok, name := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			caller = name
		}
	}
	if caller == "" {
		return "", kerrors.Unauthorized("unknown token")
	}
	return caller, nil
}

type callerKey struct{}

// WithCaller returns a context carrying the authorized caller.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok
}

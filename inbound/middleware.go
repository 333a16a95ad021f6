package inbound

import (
	"context"
	"net/http"

	"github.com/goliatone/go-ocpi/core"
)

type authorizedKey struct{}
type tokenKey struct{}

// AuthorizedFrom returns the party that authenticated the request.
func AuthorizedFrom(ctx context.Context) (core.AuthorizedParty, bool) {
	return authorizedFrom(ctx)
}

func authorizedFrom(ctx context.Context) (core.AuthorizedParty, bool) {
	if ctx == nil {
		return core.AuthorizedParty{}, false
	}
	auth, ok := ctx.Value(authorizedKey{}).(core.AuthorizedParty)
	return auth, ok
}

func presentedToken(req *http.Request) string {
	token, _ := req.Context().Value(tokenKey{}).(string)
	return token
}

// authenticateOptional lets anonymous discovery calls through. A presented
// token must still be valid.
func (r *Router) authenticateOptional(next http.Handler) http.Handler {
	strict := r.authenticate(next)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get(core.HeaderAuthorization) == "" {
			next.ServeHTTP(w, req)
			return
		}
		strict.ServeHTTP(w, req)
	})
}

// authenticate resolves the Authorization header before any route runs. A
// registering party presents the token we issued it out of band.
func (r *Router) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token, ok := core.TokenFromHeader(req.Header.Get(core.HeaderAuthorization))
		if !ok {
			r.writeError(w, req, core.ErrUnauthorized)
			return
		}
		auth, err := r.service.Authorize(req.Context(), token)
		if err != nil {
			r.writeError(w, req, err)
			return
		}
		ctx := context.WithValue(req.Context(), authorizedKey{}, auth)
		ctx = context.WithValue(ctx, tokenKey{}, token)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

package api

import (
	"context"
	"net/http"

	"github.com/seantiz/scribe/internal/model"
)

// apiKeyHeader carries the client's API key.
const apiKeyHeader = "api-key"

type ctxKey int

const apiKeyCtxKey ctxKey = iota

// requireKey rejects requests without a valid key of at least perm and
// stores the key in the request context.
func (s *Server) requireKey(perm model.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := s.svc.Authenticate(r.Context(), r.Header.Get(apiKeyHeader), perm)
			if err != nil {
				s.writeServiceError(w, err)
				return
			}
			setCaller(r.Context(), key.Permission.String())
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyCtxKey, key)))
		})
	}
}

// apiKeyFrom returns the key stored by requireKey.
func apiKeyFrom(ctx context.Context) *model.ApiKey {
	k, _ := ctx.Value(apiKeyCtxKey).(*model.ApiKey)
	return k
}

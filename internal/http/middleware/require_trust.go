package middleware

import (
	"net/http"

	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/gate"
)

// DecisionResponse is returned when the gate refuses a request.
type DecisionResponse struct {
	Error    string          `json:"error"`
	Decision domain.Decision `json:"decision"`
}

// RequireTrust runs the session gate for every request and only lets allowed
// sessions through. It must be applied after Auth or AuthAllowPending.
//
// Example usage:
//
//	r.With(middleware.Auth(tokens)).
//	  With(middleware.RequireTrust(g)).
//	  Get("/v1/things", thingsHandler.List)
func RequireTrust(g *gate.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSession(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			decision := g.Decide(r.Context(), session, r.URL.Path)
			switch decision.Kind {
			case domain.DecisionAllow:
				next.ServeHTTP(w, r)
			case domain.DecisionPending:
				w.Header().Set("Retry-After", "1")
				httputil.JSON(w, http.StatusServiceUnavailable, DecisionResponse{
					Error:    "trust state unavailable",
					Decision: decision,
				})
			default:
				httputil.JSON(w, http.StatusForbidden, DecisionResponse{
					Error:    "access restricted",
					Decision: decision,
				})
			}
		})
	}
}

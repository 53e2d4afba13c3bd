package httpapi

import (
	"context"
	"net/http"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/auth"
)

const authHeader = "Authorization"

// withAuth verifies the admin bearer JWT and stores the identity in context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.signer == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authentication not configured")
			return
		}
		token, ok := auth.BearerToken(r.Header.Get(authHeader))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vendoraccess"`)
			writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := a.signer.ParseAndValidate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vendoraccess", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits requests whose identity carries at least one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := auth.UserIDFromContext(r.Context()); !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vendoraccess"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, role := range roles {
				if auth.HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="vendoraccess", error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "insufficient role")
		})
	}
}

type decisionKey struct{}

// RequireVendorAccess guards a handler of another platform service with the
// vendor access check for (category, level). The vendor token is read from
// the Authorization header; the allowed decision is stored in the context.
func RequireVendorAccess(authz access.Authorizer, category access.Category, level access.Level) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get(authHeader))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vendor"`)
				writeError(w, r, http.StatusUnauthorized, access.ReasonInvalidToken)
				return
			}
			d := authz.ValidateAccess(r.Context(), access.AccessRequest{
				RawToken:  token,
				Category:  category,
				Level:     level,
				Endpoint:  r.URL.Path,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			if !d.Valid {
				writeDenial(w, r, d.Reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionKey{}, d)))
		})
	}
}

// VendorDecisionFromContext returns the decision stored by RequireVendorAccess.
func VendorDecisionFromContext(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(access.Decision)
	return d, ok
}

func writeDenial(w http.ResponseWriter, r *http.Request, reason string) {
	switch reason {
	case access.ReasonInsufficientRole, access.ReasonAddressDenied:
		writeError(w, r, http.StatusForbidden, reason)
	case access.ReasonMalformed:
		writeError(w, r, http.StatusBadRequest, reason)
	case access.ReasonUnavailable:
		writeError(w, r, http.StatusServiceUnavailable, reason)
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="vendor", error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, reason)
	}
}

// Package authn resolves the HTTP edge's external collaborator identity:
// spec.md §1 names end-user authentication as "provides an opaque
// authenticated principal and a role" — out of scope for the core, but the
// core's HTTP façade still needs something to call. This is grounded on
// internal/auth/middleware.go's layered-precedence design, collapsed to two
// legs (the JWT/OIDC legs are dropped — see DESIGN.md): an opaque Bearer
// token resolved by a pluggable Resolver, and, in development only, an
// X-Principal header (no X-Project header is read).
package authn

import (
	"context"
	"net/http"
	"strings"
)

// Identity is the authenticated caller the rest of the request pipeline
// sees. It carries no role: internal/authz.Gate resolves the role from the
// project's actual membership before any per-project operation.
type Identity struct {
	Principal string
	Method    string // "bearer" or "dev-header"
}

// Resolver maps an opaque bearer token to a Principal. Production
// deployments back this with whatever external identity system issues the
// opaque token (spec.md §1); it is not implemented here.
type Resolver interface {
	Resolve(ctx context.Context, token string) (principal string, err error)
}

type contextKey string

const identityKey contextKey = "authn_identity"

// NewContext stores an Identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the Identity from the context, or nil.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// Middleware resolves the caller's identity and stores it in the request
// context. It never rejects a request outright — internal/authz.Gate does
// that, returning Unauthorized when no identity is present — so that unauthenticated-but-public routes (health, metrics)
// keep working when mounted under the same router.
func Middleware(resolver Resolver, devHeadersEnabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := resolveBearer(r, resolver); id != nil {
				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
				return
			}

			if devHeadersEnabled {
				if id := resolveDevHeaders(r); id != nil {
					next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), id)))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func resolveBearer(r *http.Request, resolver Resolver) *Identity {
	auth := r.Header.Get("Authorization")
	if auth == "" || resolver == nil {
		return nil
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return nil
	}

	principal, err := resolver.Resolve(r.Context(), token)
	if err != nil || principal == "" {
		return nil
	}
	return &Identity{Principal: principal, Method: "bearer"}
}

// resolveDevHeaders is the development-only fallback (no external identity
// provider wired up): X-Principal names the caller directly. Mirrors
// internal/auth/middleware.go's dev X-Tenant-Slug fallback.
func resolveDevHeaders(r *http.Request) *Identity {
	principal := r.Header.Get("X-Principal")
	if principal == "" {
		return nil
	}
	return &Identity{Principal: principal, Method: "dev-header"}
}

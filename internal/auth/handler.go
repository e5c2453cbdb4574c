package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Adam5421/SmartAIExam/internal/app/apiresp"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-Role"
	HeaderToken  = "X-API-Token"
)

type contextKey string

const userContextKey contextKey = "auth_user"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Identify resolves the caller from request headers and stores it in the context.
func (h *Handler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.Resolve(r.Header.Get(HeaderUserID), r.Header.Get(HeaderRole), readToken(r))
		if err != nil {
			if errors.Is(err, ErrUnknownRole) {
				apiresp.WriteError(w, r, http.StatusForbidden, "unknown role")
				return
			}
			apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// ContextWithUser injects a caller into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Actor returns the id recorded on audit entries for the current caller.
func Actor(ctx context.Context) string {
	if u, ok := CurrentUser(ctx); ok && u.ID != "" {
		return u.ID
	}
	return "anonymous"
}

func readToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderToken)); v != "" {
		return v
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

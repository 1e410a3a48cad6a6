package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantgate/internal/models"
)

const principalContextKey contextKey = "principal"

// Principal identifies the authenticated caller and their active tenant.
// ClientIP is the resolved request address, carried for audit logging.
type Principal struct {
	UserID      uuid.UUID
	ActiveOrgID uuid.UUID
	Email       string
	ClientIP    string
}

// SessionValidator resolves bearer tokens to sessions.
// *cache.SessionCache satisfies this.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

// PrincipalFromContext extracts the authenticated principal from the request
// context. Returns nil outside SessionAuthMiddleware-wrapped handlers.
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}

// SessionAuthMiddleware authenticates requests using bearer tokens resolved
// through the session cache, adding the principal to the request context.
//
// If authentication fails, it returns 401 Unauthorized. It never
// distinguishes unknown, expired, or unverifiable tokens to the client.
func SessionAuthMiddleware(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			session, err := validator.Validate(r.Context(), token)
			if err != nil {
				log.Debug().Err(err).Msg("Session auth: validation failed")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			clientIP := ClientIPFromContext(r.Context())
			if clientIP == "" {
				clientIP = ExtractClientIP(r)
			}

			principal := &Principal{
				UserID:      session.UserID,
				ActiveOrgID: session.ActiveOrgID,
				Email:       session.Email,
				ClientIP:    clientIP,
			}

			log.Debug().
				Str("user_id", principal.UserID.String()).
				Str("org_id", principal.ActiveOrgID.String()).
				Str("client_ip", principal.ClientIP).
				Msg("Session auth: authenticated")

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

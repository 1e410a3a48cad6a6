package server

import (
	"net/http"

	"github.com/google/uuid"
	httpmiddleware "github.com/wolfeidau/tenantgate/internal/http"
)

// MeHandler returns the authenticated principal. Mounted behind the session
// auth middleware; it is the identity echo used by clients and smoke tests.
func MeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := httpmiddleware.PrincipalFromContext(r.Context())
		if principal == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		resp := struct {
			UserID string `json:"user_id"`
			OrgID  string `json:"org_id,omitempty"`
			Email  string `json:"email"`
		}{
			UserID: principal.UserID.String(),
			Email:  principal.Email,
		}
		if principal.ActiveOrgID != uuid.Nil {
			resp.OrgID = principal.ActiveOrgID.String()
		}

		writeJSON(w, resp)
	})
}

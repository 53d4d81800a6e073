package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/authvault-io/authvault/internal/auth"
)

const refreshCookieName = "refresh_token"

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (api *Api) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := api.auth.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}

	api.setRefreshCookie(w, pair.RefreshToken)
	api.writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (api *Api) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		api.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := api.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}

	api.setRefreshCookie(w, pair.RefreshToken)
	api.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (api *Api) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	presented := api.refreshTokenFromRequest(r)
	if presented == "" {
		api.writeError(w, http.StatusUnauthorized, "refresh token required")
		return
	}

	pair, err := api.auth.Refresh(r.Context(), presented)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}

	api.setRefreshCookie(w, pair.RefreshToken)
	api.writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (api *Api) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// Logging out an already-revoked token is a no-op, not an error.
	if presented := api.refreshTokenFromRequest(r); presented != "" {
		if err := api.auth.Logout(r.Context(), userID, presented); err != nil {
			api.writeDomainError(w, err)
			return
		}
	}

	api.clearRefreshCookie(w)
	api.writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (api *Api) ProtectedHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]int64{"userId": userID})
}

// refreshTokenFromRequest reads the refresh token from the cookie, falling
// back to a JSON body field for clients that don't use cookies.
func (api *Api) refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}
	return body.RefreshToken
}

func (api *Api) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(api.Config.Auth.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (api *Api) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (api *Api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.log.Error("failed to encode response", "error", err)
	}
}

func (api *Api) writeError(w http.ResponseWriter, status int, message string) {
	api.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps a service error onto a status code and a safe,
// generic message. Internal details are logged, never returned.
func (api *Api) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		api.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		api.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		api.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidToken):
		api.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrExpiredToken):
		api.writeError(w, http.StatusForbidden, err.Error())
	default:
		api.log.Error("request failed", "error", err)
		api.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"fleetdesk/config"
	"fleetdesk/core/auth"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type AuthHandler struct {
	cfg        *config.AppConfig
	users      store.UsersStore
	sessionMgr *auth.SessionManager
	audits     store.AuditStore
	logger     *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessionMgr *auth.SessionManager, audits store.AuditStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessionMgr: sessionMgr, audits: audits, logger: logger}
}

const sessionCookieName = "fleetdesk_session"

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	username := strings.ToLower(strings.TrimSpace(cred.Username))
	if username == "" || cred.Password == "" {
		http.Error(w, "auth.invalidCredentials", http.StatusUnauthorized)
		return
	}
	hash, salt, _, err := h.users.Credentials(r.Context(), username)
	if err != nil || hash == "" {
		if h.logger != nil {
			h.logger.Printf("LOGIN fail user=%s", username)
		}
		http.Error(w, "auth.invalidCredentials", http.StatusUnauthorized)
		return
	}
	if !auth.VerifyPassword(cred.Password, salt, h.cfg.Pepper, hash) {
		if h.audits != nil {
			_ = h.audits.Append(r.Context(), username, "auth.login_failed", "")
		}
		http.Error(w, "auth.invalidCredentials", http.StatusUnauthorized)
		return
	}
	user, roles, err := h.users.FindByUsername(r.Context(), username)
	if err != nil || user == nil || !user.Active {
		http.Error(w, "auth.invalidCredentials", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessionMgr.Create(r.Context(), user, roles, clientAddr(r), r.UserAgent())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.EffectiveSessionTTL().Seconds()),
	})
	if h.audits != nil {
		_ = h.audits.Append(r.Context(), username, "auth.login", "")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":        user.ID,
			"username":  user.Username,
			"full_name": user.FullName,
			"email":     user.Email,
			"roles":     roles,
		},
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	if sr != nil {
		_ = h.sessionMgr.Delete(r.Context(), sr.ID)
		if h.audits != nil {
			_ = h.audits.Append(r.Context(), sr.Username, "auth.logout", "")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sr := sessionFrom(r)
	if sr == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, roles, err := h.users.FindByUsername(r.Context(), sr.Username)
	if err != nil || user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        user.ID,
		"username":  user.Username,
		"full_name": user.FullName,
		"email":     user.Email,
		"area":      user.Area,
		"roles":     roles,
	})
}

func clientAddr(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.TrimSpace(host)
}

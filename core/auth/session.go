package auth

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"

	"fleetdesk/config"
	"fleetdesk/core/store"
	"fleetdesk/core/utils"
)

type contextKey string

// SessionContextKey carries the *store.SessionRecord through the request
// context once the session middleware has resolved it.
const SessionContextKey = contextKey("fleetdesk.session")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the in-memory view handed to middleware and handlers.
type Session struct {
	ID        string
	UserID    int64
	Username  string
	Roles     []string
	IP        string
	UserAgent string
}

type SessionManager struct {
	store  store.SessionStore
	cfg    *config.AppConfig
	logger *utils.Logger
}

func NewSessionManager(store store.SessionStore, cfg *config.AppConfig, logger *utils.Logger) *SessionManager {
	return &SessionManager{store: store, cfg: cfg, logger: logger}
}

func (m *SessionManager) Create(ctx context.Context, user *store.User, roles []string, ip, userAgent string) (*Session, error) {
	id := uuid.Must(uuid.NewV4()).String()
	now := utils.NowUTC()
	rec := &store.SessionRecord{
		ID:         id,
		UserID:     user.ID,
		Username:   user.Username,
		Roles:      roles,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(m.cfg.EffectiveSessionTTL()),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}
	return &Session{ID: id, UserID: user.ID, Username: user.Username, Roles: roles, IP: ip, UserAgent: userAgent}, nil
}

// Resolve loads a live session by cookie value. Expired or unknown ids
// resolve to nil without error.
func (m *SessionManager) Resolve(ctx context.Context, id string) (*Session, error) {
	rec, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ExpiresAt.Before(utils.NowUTC()) {
		return nil, nil
	}
	return &Session{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Username:  rec.Username,
		Roles:     rec.Roles,
		IP:        rec.IP,
		UserAgent: rec.UserAgent,
	}, nil
}

func (m *SessionManager) Refresh(ctx context.Context, sessID string) error {
	return m.store.UpdateActivity(ctx, sessID, utils.NowUTC(), m.cfg.EffectiveSessionTTL())
}

func (m *SessionManager) Rotate(ctx context.Context, sessID string) (*Session, error) {
	old, err := m.store.GetSession(ctx, sessID)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, errors.New("session not found")
	}
	_ = m.store.DeleteSession(ctx, sessID)
	return m.Create(ctx, &store.User{ID: old.UserID, Username: old.Username}, old.Roles, old.IP, old.UserAgent)
}

func (m *SessionManager) Delete(ctx context.Context, sessID string) error {
	return m.store.DeleteSession(ctx, sessID)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Area      string    `json:"area,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type UsersStore interface {
	CreateUser(ctx context.Context, user *User, passwordHash, salt string, roles []string) (int64, error)
	Get(ctx context.Context, id int64) (*User, []string, error)
	FindByUsername(ctx context.Context, username string) (*User, []string, error)
	Credentials(ctx context.Context, username string) (hash string, salt string, userID int64, err error)
	List(ctx context.Context) ([]User, error)
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

func (s *usersStore) CreateUser(ctx context.Context, user *User, passwordHash, salt string, roles []string) (int64, error) {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return 0, errors.New("username is empty")
	}
	rolesRaw, err := json.Marshal(normalizeRoles(roles))
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(username, full_name, email, password_hash, salt, roles, area, active, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		username, strings.TrimSpace(user.FullName), strings.TrimSpace(user.Email), passwordHash, salt, string(rolesRaw), strings.TrimSpace(user.Area), boolToInt(true), now, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	user.ID = id
	user.Username = username
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now
	return id, nil
}

func (s *usersStore) Get(ctx context.Context, id int64) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, roles, area, active, created_at, updated_at
		FROM users WHERE id=?`, id)
	return scanUser(row)
}

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, []string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, roles, area, active, created_at, updated_at
		FROM users WHERE username=?`, strings.ToLower(strings.TrimSpace(username)))
	return scanUser(row)
}

func (s *usersStore) Credentials(ctx context.Context, username string) (string, string, int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT password_hash, salt, id FROM users WHERE username=? AND active=1`,
		strings.ToLower(strings.TrimSpace(username)))
	var hash, salt string
	var id int64
	if err := row.Scan(&hash, &salt, &id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", 0, nil
		}
		return "", "", 0, err
	}
	return hash, salt, id, nil
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, full_name, email, roles, area, active, created_at, updated_at
		FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		var u User
		var rolesRaw string
		var active int
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &rolesRaw, &u.Area, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Active = active == 1
		res = append(res, u)
	}
	return res, rows.Err()
}

func scanUser(row *sql.Row) (*User, []string, error) {
	var u User
	var rolesRaw string
	var active int
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &rolesRaw, &u.Area, &active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	u.Active = active == 1
	var roles []string
	_ = json.Unmarshal([]byte(rolesRaw), &roles)
	return &u, roles, nil
}

func normalizeRoles(roles []string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, r := range roles {
		clean := strings.ToLower(strings.TrimSpace(r))
		if clean == "" {
			continue
		}
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}

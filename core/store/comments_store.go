package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ReviewComment is append-only. There is deliberately no update or delete.
type ReviewComment struct {
	ID           int64     `json:"id"`
	IncidentID   int64     `json:"incident_id"`
	AuthorUserID int64     `json:"author_user_id"`
	AuthorName   string    `json:"author_name,omitempty"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

type CommentsStore interface {
	AddComment(ctx context.Context, comment *ReviewComment) (int64, error)
	ListComments(ctx context.Context, incidentID int64) ([]ReviewComment, error)
}

type commentsStore struct {
	db *sql.DB
}

func NewCommentsStore(db *sql.DB) CommentsStore {
	return &commentsStore{db: db}
}

func (s *commentsStore) AddComment(ctx context.Context, comment *ReviewComment) (int64, error) {
	body := strings.TrimSpace(comment.Body)
	if body == "" {
		return 0, errors.New("comment body is empty")
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents WHERE id=?`, comment.IncidentID).Scan(&exists); err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, errors.New("incident not found")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incident_comments(incident_id, author_user_id, body, created_at)
		VALUES(?,?,?,?)`,
		comment.IncidentID, comment.AuthorUserID, body, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	comment.ID = id
	comment.Body = body
	comment.CreatedAt = now
	return id, nil
}

func (s *commentsStore) ListComments(ctx context.Context, incidentID int64) ([]ReviewComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.incident_id, c.author_user_id, COALESCE(u.full_name, ''), c.body, c.created_at
		FROM incident_comments c
		LEFT JOIN users u ON u.id = c.author_user_id
		WHERE c.incident_id=? ORDER BY c.created_at ASC, c.id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ReviewComment
	for rows.Next() {
		var c ReviewComment
		if err := rows.Scan(&c.ID, &c.IncidentID, &c.AuthorUserID, &c.AuthorName, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

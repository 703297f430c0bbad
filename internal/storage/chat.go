package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// GetOrCreateSession returns the chat session for token, creating it on first use.
func (s *Store) GetOrCreateSession(ctx context.Context, token string) (ChatSession, error) {
	var sess ChatSession
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, token, created_at FROM chat_sessions WHERE token = ?`, token).
		Scan(&sess.ID, &sess.Token, &createdAt)
	if err == nil {
		if sess.CreatedAt, err = parseTime(createdAt); err != nil {
			return ChatSession{}, err
		}
		return sess, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ChatSession{}, fmt.Errorf("loading chat session: %w", err)
	}

	now := s.now()
	sess = ChatSession{ID: uuid.NewString(), Token: token, CreatedAt: now}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, token, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, token, formatTime(now), formatTime(now)); err != nil {
		return ChatSession{}, fmt.Errorf("creating chat session: %w", err)
	}
	return sess, nil
}

// AddChatMessage appends a message to a session.
func (s *Store) AddChatMessage(ctx context.Context, m ChatMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, grounded, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, boolInt(m.Grounded), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("adding chat message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET updated_at = ? WHERE id = ?`,
		formatTime(m.CreatedAt), m.SessionID); err != nil {
		return fmt.Errorf("touching chat session: %w", err)
	}
	return nil
}

// RecentChatMessages returns up to limit most recent messages of a session,
// oldest first. A limit <= 0 returns the whole session.
func (s *Store) RecentChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, grounded, created_at FROM (
			SELECT id, session_id, role, content, grounded, created_at, rowid AS seq
			FROM chat_messages WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at ASC, seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		var grounded int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &grounded, &createdAt); err != nil {
			return nil, err
		}
		m.Grounded = grounded != 0
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecordAnalytics stores one anonymized chat-turn event.
func (s *Store) RecordAnalytics(ctx context.Context, e AnalyticsEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_analytics (id, session_id, query_anonymized, category, context_chunks, grounded, response_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.QueryAnonymized, e.Category, e.ContextChunks, boolInt(e.Grounded),
		e.ResponseTime.Milliseconds(), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording analytics: %w", err)
	}
	return nil
}

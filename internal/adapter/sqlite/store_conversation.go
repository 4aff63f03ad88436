package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
)

const conversationColumns = `id, thread_id, user_id, status, turn_count, last_request_id, history, context,
	last_activity_at, expires_at, closed_at, close_reason, created_at, version`

func (s *Store) GetLatestConversation(ctx context.Context, threadID string) (*conversation.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, threadID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get latest conversation for thread %s", threadID)
	}
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) ListThreadConversations(ctx context.Context, threadID string) ([]conversation.State, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE thread_id = ? ORDER BY seq DESC`, threadID)
}

func (s *Store) ListActiveConversations(ctx context.Context, userID string) ([]conversation.State, error) {
	return s.listConversations(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = ? AND status NOT IN ('scheduled', 'closed')
		 ORDER BY last_activity_at DESC`, userID)
}

func (s *Store) listConversations(ctx context.Context, query string, args ...any) ([]conversation.State, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var result []conversation.State
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		result = append(result, c)
	}
	return orEmpty(result), rows.Err()
}

func (s *Store) CreateConversation(ctx context.Context, c *conversation.State) error {
	history, ctxJSON, err := conversationJSON(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, thread_id, user_id, status, turn_count, last_request_id, history, context,
		                            last_activity_at, expires_at, closed_at, close_reason, created_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		c.ID, c.ThreadID, c.UserID, string(c.Status), c.TurnCount, c.LastRequestID, history, ctxJSON,
		ts(c.LastActivityAt), nullTS(c.ExpiresAt), nullTS(c.ClosedAt), c.CloseReason, ts(c.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create conversation for thread %s: %w", c.ThreadID, domain.ErrConflict)
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	c.Version = 1
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, c *conversation.State) error {
	history, ctxJSON, err := conversationJSON(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = ?, turn_count = ?, last_request_id = ?, history = ?, context = ?,
		     last_activity_at = ?, expires_at = ?, closed_at = ?, close_reason = ?,
		     version = version + 1
		 WHERE id = ? AND version = ?`,
		string(c.Status), c.TurnCount, c.LastRequestID, history, ctxJSON,
		ts(c.LastActivityAt), nullTS(c.ExpiresAt), nullTS(c.ClosedAt), c.CloseReason, c.ID, c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update conversation %s: %w", c.ID, domain.ErrConflict)
		}
		return fmt.Errorf("update conversation %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update conversation %s: %w", c.ID, domain.ErrConflict)
	}
	c.Version++
	return nil
}

func (s *Store) CloseExpiredConversations(ctx context.Context, before, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET status = 'closed', close_reason = ?, closed_at = ?, expires_at = NULL,
		     context = json_set(context, '$.pending_confirmation', json('false')),
		     version = version + 1
		 WHERE status NOT IN ('scheduled', 'closed') AND last_activity_at <= ?`,
		conversation.ReasonExpired, ts(now), ts(before))
	if err != nil {
		return 0, fmt.Errorf("close expired conversations: %w", err)
	}
	return res.RowsAffected()
}

func conversationJSON(c *conversation.State) (history, ctxJSON string, err error) {
	if history, err = jsonText(c.History); err != nil {
		return "", "", fmt.Errorf("marshal conversation history: %w", err)
	}
	b, err := json.Marshal(c.Context)
	if err != nil {
		return "", "", fmt.Errorf("marshal conversation context: %w", err)
	}
	return history, string(b), nil
}

func scanConversation(row scanner) (conversation.State, error) {
	var (
		c                        conversation.State
		status, history, ctxJSON string
		lastActivity, created    string
		expires, closed          sql.NullString
	)
	err := row.Scan(&c.ID, &c.ThreadID, &c.UserID, &status, &c.TurnCount, &c.LastRequestID,
		&history, &ctxJSON, &lastActivity, &expires, &closed, &c.CloseReason, &created, &c.Version)
	if err != nil {
		return c, err
	}
	c.Status = conversation.Status(status)
	if err := json.Unmarshal([]byte(history), &c.History); err != nil {
		return c, fmt.Errorf("unmarshal conversation history: %w", err)
	}
	c.History = orEmpty(c.History)
	if err := json.Unmarshal([]byte(ctxJSON), &c.Context); err != nil {
		return c, fmt.Errorf("unmarshal conversation context: %w", err)
	}
	if c.LastActivityAt, err = parseTS(lastActivity); err != nil {
		return c, err
	}
	if c.CreatedAt, err = parseTS(created); err != nil {
		return c, err
	}
	if c.ExpiresAt, err = parseNullTS(expires); err != nil {
		return c, err
	}
	if c.ClosedAt, err = parseNullTS(closed); err != nil {
		return c, err
	}
	return c, nil
}

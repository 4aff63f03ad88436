package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/conversation"
)

const conversationColumns = `id, thread_id, user_id, status, turn_count, last_request_id, history, context,
	last_activity_at, expires_at, closed_at, close_reason, created_at, version`

func (s *Store) GetLatestConversation(ctx context.Context, threadID string) (*conversation.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations WHERE thread_id = $1
		 ORDER BY seq DESC LIMIT 1`, threadID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get latest conversation for thread %s", threadID)
	}
	return &c, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*conversation.State, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFoundWrap(err, "get conversation %s", id)
	}
	return &c, nil
}

func (s *Store) ListThreadConversations(ctx context.Context, threadID string) ([]conversation.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations WHERE thread_id = $1 ORDER BY seq DESC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list thread conversations: %w", err)
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

func (s *Store) ListActiveConversations(ctx context.Context, userID string) ([]conversation.State, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+`
		 FROM conversations
		 WHERE user_id = $1 AND status NOT IN ('scheduled', 'closed')
		 ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list active conversations: %w", err)
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
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, thread_id, user_id, status, turn_count, last_request_id, history, context,
		                            last_activity_at, expires_at, closed_at, close_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING version`,
		c.ID, c.ThreadID, c.UserID, string(c.Status), c.TurnCount, c.LastRequestID,
		pgTextArray(c.History), ctxJSON, c.LastActivityAt, nullTime(c.ExpiresAt), nullTime(c.ClosedAt),
		c.CloseReason, c.CreatedAt,
	).Scan(&c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create conversation for thread %s: %w", c.ThreadID, domain.ErrConflict)
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, c *conversation.State) error {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return fmt.Errorf("marshal conversation context: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET status = $2, turn_count = $3, last_request_id = $4, history = $5, context = $6,
		     last_activity_at = $7, expires_at = $8, closed_at = $9, close_reason = $10,
		     version = version + 1
		 WHERE id = $1 AND version = $11`,
		c.ID, string(c.Status), c.TurnCount, c.LastRequestID, pgTextArray(c.History), ctxJSON,
		c.LastActivityAt, nullTime(c.ExpiresAt), nullTime(c.ClosedAt), c.CloseReason, c.Version)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conversation %s: %w", c.ID, domain.ErrConflict)
	}
	c.Version++
	return nil
}

func (s *Store) CloseExpiredConversations(ctx context.Context, before, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET status = 'closed', close_reason = $3, closed_at = $2, expires_at = NULL,
		     context = jsonb_set(context, '{pending_confirmation}', 'false'),
		     version = version + 1
		 WHERE status NOT IN ('scheduled', 'closed') AND last_activity_at <= $1`,
		before, now, conversation.ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("close expired conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanConversation(row scannable) (conversation.State, error) {
	var (
		c       conversation.State
		status  string
		ctxJSON []byte
	)
	err := row.Scan(&c.ID, &c.ThreadID, &c.UserID, &status, &c.TurnCount, &c.LastRequestID,
		&c.History, &ctxJSON, &c.LastActivityAt, &c.ExpiresAt, &c.ClosedAt, &c.CloseReason,
		&c.CreatedAt, &c.Version)
	if err != nil {
		return c, err
	}
	c.Status = conversation.Status(status)
	c.History = orEmpty(c.History)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &c.Context); err != nil {
			return c, fmt.Errorf("unmarshal conversation context: %w", err)
		}
	}
	return c, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
)

func (s *Store) GetBreaker(ctx context.Context, userID string) (*breaker.State, error) {
	var (
		b                              breaker.State
		status, updated                string
		lastLow, opened, closeEligible sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, status, consecutive_low, half_open_successes, last_low_at, opened_at,
		        close_eligible_at, manual_override, reason, updated_at, version
		 FROM breaker_states WHERE user_id = ?`, userID,
	).Scan(&b.UserID, &status, &b.ConsecutiveLow, &b.HalfOpenSuccesses, &lastLow, &opened,
		&closeEligible, &b.ManualOverride, &b.Reason, &updated, &b.Version)
	if err != nil {
		return nil, notFoundWrap(err, "get breaker for user %s", userID)
	}
	b.Status = breaker.Status(status)
	if b.UpdatedAt, err = parseTS(updated); err != nil {
		return nil, err
	}
	if b.LastLowAt, err = parseNullTS(lastLow); err != nil {
		return nil, err
	}
	if b.OpenedAt, err = parseNullTS(opened); err != nil {
		return nil, err
	}
	if b.CloseEligibleAt, err = parseNullTS(closeEligible); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SaveBreaker(ctx context.Context, b *breaker.State) error {
	if b.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO breaker_states (user_id, status, consecutive_low, half_open_successes, last_low_at,
			                             opened_at, close_eligible_at, manual_override, reason, updated_at, version)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			b.UserID, string(b.Status), b.ConsecutiveLow, b.HalfOpenSuccesses, nullTS(b.LastLowAt),
			nullTS(b.OpenedAt), nullTS(b.CloseEligibleAt), b.ManualOverride, b.Reason, ts(b.UpdatedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create breaker for user %s: %w", b.UserID, domain.ErrConflict)
			}
			return fmt.Errorf("create breaker for user %s: %w", b.UserID, err)
		}
		b.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE breaker_states
		 SET status = ?, consecutive_low = ?, half_open_successes = ?, last_low_at = ?, opened_at = ?,
		     close_eligible_at = ?, manual_override = ?, reason = ?, updated_at = ?, version = version + 1
		 WHERE user_id = ? AND version = ?`,
		string(b.Status), b.ConsecutiveLow, b.HalfOpenSuccesses, nullTS(b.LastLowAt), nullTS(b.OpenedAt),
		nullTS(b.CloseEligibleAt), b.ManualOverride, b.Reason, ts(b.UpdatedAt), b.UserID, b.Version)
	if err != nil {
		return fmt.Errorf("update breaker for user %s: %w", b.UserID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update breaker for user %s: %w", b.UserID, domain.ErrConflict)
	}
	b.Version++
	return nil
}

func (s *Store) AppendBreakerEvents(ctx context.Context, events []breaker.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	for i := range events {
		ev := &events[i]
		res, err := tx.ExecContext(ctx,
			`INSERT INTO breaker_events (user_id, from_status, to_status, reason, actor, at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ev.UserID, string(ev.From), string(ev.To), ev.Reason, ev.Actor, ts(ev.At))
		if err != nil {
			return fmt.Errorf("append breaker event: %w", err)
		}
		if ev.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("breaker event id: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListBreakerEvents(ctx context.Context, userID string, limit int) ([]breaker.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, from_status, to_status, reason, actor, at
		 FROM breaker_events WHERE user_id = ?
		 ORDER BY at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list breaker events: %w", err)
	}
	defer rows.Close()

	var result []breaker.Event
	for rows.Next() {
		var (
			ev           breaker.Event
			from, to, at string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &from, &to, &ev.Reason, &ev.Actor, &at); err != nil {
			return nil, fmt.Errorf("scan breaker event: %w", err)
		}
		ev.From, ev.To = breaker.Status(from), breaker.Status(to)
		if ev.At, err = parseTS(at); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return orEmpty(result), rows.Err()
}

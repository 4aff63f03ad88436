package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/breaker"
)

func (s *Store) GetBreaker(ctx context.Context, userID string) (*breaker.State, error) {
	var (
		b      breaker.State
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, status, consecutive_low, half_open_successes, last_low_at, opened_at,
		        close_eligible_at, manual_override, reason, updated_at, version
		 FROM breaker_states WHERE user_id = $1`, userID,
	).Scan(&b.UserID, &status, &b.ConsecutiveLow, &b.HalfOpenSuccesses, &b.LastLowAt, &b.OpenedAt,
		&b.CloseEligibleAt, &b.ManualOverride, &b.Reason, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, notFoundWrap(err, "get breaker for user %s", userID)
	}
	b.Status = breaker.Status(status)
	return &b, nil
}

func (s *Store) SaveBreaker(ctx context.Context, b *breaker.State) error {
	if b.Version == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO breaker_states (user_id, status, consecutive_low, half_open_successes, last_low_at,
			                             opened_at, close_eligible_at, manual_override, reason, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING version`,
			b.UserID, string(b.Status), b.ConsecutiveLow, b.HalfOpenSuccesses, nullTime(b.LastLowAt),
			nullTime(b.OpenedAt), nullTime(b.CloseEligibleAt), b.ManualOverride, b.Reason, b.UpdatedAt,
		).Scan(&b.Version)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create breaker for user %s: %w", b.UserID, domain.ErrConflict)
			}
			return fmt.Errorf("create breaker for user %s: %w", b.UserID, err)
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE breaker_states
		 SET status = $2, consecutive_low = $3, half_open_successes = $4, last_low_at = $5, opened_at = $6,
		     close_eligible_at = $7, manual_override = $8, reason = $9, updated_at = $10,
		     version = version + 1
		 WHERE user_id = $1 AND version = $11`,
		b.UserID, string(b.Status), b.ConsecutiveLow, b.HalfOpenSuccesses, nullTime(b.LastLowAt),
		nullTime(b.OpenedAt), nullTime(b.CloseEligibleAt), b.ManualOverride, b.Reason, b.UpdatedAt, b.Version)
	if err != nil {
		return fmt.Errorf("update breaker for user %s: %w", b.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update breaker for user %s: %w", b.UserID, domain.ErrConflict)
	}
	b.Version++
	return nil
}

func (s *Store) AppendBreakerEvents(ctx context.Context, events []breaker.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range events {
		ev := &events[i]
		batch.Queue(
			`INSERT INTO breaker_events (user_id, from_status, to_status, reason, actor, at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			ev.UserID, string(ev.From), string(ev.To), ev.Reason, ev.Actor, ev.At,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&ev.ID)
		})
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append breaker events: %w", err)
	}
	return nil
}

func (s *Store) ListBreakerEvents(ctx context.Context, userID string, limit int) ([]breaker.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, from_status, to_status, reason, actor, at
		 FROM breaker_events WHERE user_id = $1
		 ORDER BY at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list breaker events: %w", err)
	}
	defer rows.Close()

	var result []breaker.Event
	for rows.Next() {
		var (
			ev       breaker.Event
			from, to string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &from, &to, &ev.Reason, &ev.Actor, &ev.At); err != nil {
			return nil, fmt.Errorf("scan breaker event: %w", err)
		}
		ev.From, ev.To = breaker.Status(from), breaker.Status(to)
		result = append(result, ev)
	}
	return orEmpty(result), rows.Err()
}

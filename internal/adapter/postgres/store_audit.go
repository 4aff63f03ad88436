package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/manutej/calendar-availability-system-sub000/internal/domain"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/audit"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/decision"
	"github.com/manutej/calendar-availability-system-sub000/internal/domain/message"
)

const auditSelect = `SELECT e.id, e.user_id, e.thread_id, e.conversation_id, e.message_id, e.sender, e.request_type,
	e.action, e.forced_by, e.assessment, e.conversation, e.breaker, e.calendar, e.rationale, e.created_at,
	n.notified_at, o.kind, o.reason, o.actor, o.at
	FROM audit_entries e
	LEFT JOIN audit_overrides o ON o.entry_id = e.id
	LEFT JOIN audit_notifications n ON n.entry_id = e.id`

func (s *Store) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	var assessmentJSON, calendarJSON []byte
	var err error
	if e.Assessment != nil {
		if assessmentJSON, err = json.Marshal(e.Assessment); err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
	}
	if e.Calendar != nil {
		if calendarJSON, err = json.Marshal(e.Calendar); err != nil {
			return fmt.Errorf("marshal calendar: %w", err)
		}
	}
	convJSON, err := json.Marshal(e.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	breakerJSON, err := json.Marshal(e.Breaker)
	if err != nil {
		return fmt.Errorf("marshal breaker: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, user_id, thread_id, conversation_id, message_id, sender, request_type,
		                            action, forced_by, confidence, assessment, conversation, breaker, calendar,
		                            rationale, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.UserID, e.ThreadID, e.ConversationID, e.MessageID, e.Sender, string(e.RequestType),
		string(e.Action), string(e.ForcedBy), e.Confidence(), assessmentJSON, convJSON, breakerJSON,
		calendarJSON, pgTextArray(e.Rationale), e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create audit entry %s: %w", e.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (s *Store) GetAuditEntry(ctx context.Context, id string) (*audit.Entry, error) {
	e, err := scanAuditEntry(s.pool.QueryRow(ctx, auditSelect+` WHERE e.id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get audit entry %s", id)
	}
	return &e, nil
}

func (s *Store) QueryAuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.UserID != "" {
		add("e.user_id = $%d", f.UserID)
	}
	if f.ThreadID != "" {
		add("e.thread_id = $%d", f.ThreadID)
	}
	if f.MessageID != "" {
		add("e.message_id = $%d", f.MessageID)
	}
	if f.Sender != "" {
		add("e.sender = $%d", f.Sender)
	}
	if f.Action != "" {
		add("e.action = $%d", string(f.Action))
	}
	if f.Since != nil {
		add("e.created_at >= $%d", *f.Since)
	}
	if f.Until != nil {
		add("e.created_at <= $%d", *f.Until)
	}
	if f.MinConfidence != nil {
		add("e.confidence >= $%d", *f.MinConfidence)
	}
	if f.MaxConfidence != nil {
		add("e.confidence <= $%d", *f.MaxConfidence)
	}

	query := auditSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY e.created_at DESC, e.seq DESC"

	limit := f.Limit
	if limit <= 0 || limit > audit.MaxLimit {
		limit = audit.MaxLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		result = append(result, e)
	}
	return orEmpty(result), rows.Err()
}

func (s *Store) CreateAuditOverride(ctx context.Context, entryID string, o audit.Override) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_overrides (entry_id, kind, reason, actor, at) VALUES ($1, $2, $3, $4, $5)`,
		entryID, string(o.Kind), o.Reason, o.Actor, o.At)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("override audit entry %s: %w", entryID, audit.ErrAlreadyOverridden)
	case isForeignKeyViolation(err):
		return fmt.Errorf("override audit entry %s: %w", entryID, domain.ErrNotFound)
	default:
		return fmt.Errorf("override audit entry %s: %w", entryID, err)
	}
}

func (s *Store) MarkAuditNotified(ctx context.Context, entryID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_notifications (entry_id, notified_at) VALUES ($1, $2)
		 ON CONFLICT (entry_id) DO NOTHING`, entryID, at)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("mark audit entry %s notified: %w", entryID, domain.ErrNotFound)
		}
		return fmt.Errorf("mark audit entry %s notified: %w", entryID, err)
	}
	return nil
}

func (s *Store) AuditStats(ctx context.Context, userID string, since time.Time) (*audit.Stats, error) {
	st := &audit.Stats{
		UserID:    userID,
		Since:     since,
		ByAction:  map[decision.Outcome]int{},
		Overrides: map[audit.OverrideKind]int{},
	}

	rows, err := s.pool.Query(ctx,
		`SELECT e.action, e.forced_by <> '', o.kind, COUNT(*)
		 FROM audit_entries e
		 LEFT JOIN audit_overrides o ON o.entry_id = e.id
		 WHERE e.user_id = $1 AND e.created_at >= $2
		 GROUP BY 1, 2, 3`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action string
			forced bool
			kind   *string
			n      int
		)
		if err := rows.Scan(&action, &forced, &kind, &n); err != nil {
			return nil, fmt.Errorf("scan audit stats: %w", err)
		}
		st.Total += n
		st.ByAction[decision.Outcome(action)] += n
		if forced {
			st.Forced += n
		}
		if kind != nil {
			st.Overrides[audit.OverrideKind(*kind)] += n
		}
	}
	return st, rows.Err()
}

func (s *Store) SenderHistory(ctx context.Context, userID, sender string, since time.Time) (*audit.SenderHistory, error) {
	h := &audit.SenderHistory{Sender: sender}
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE e.action = 'auto_respond'),
		        COUNT(*) FILTER (WHERE o.kind = 'approved'),
		        COUNT(*) FILTER (WHERE o.kind = 'retracted'),
		        COUNT(*) FILTER (WHERE o.kind = 'marked_incorrect')
		 FROM audit_entries e
		 LEFT JOIN audit_overrides o ON o.entry_id = e.id
		 WHERE e.user_id = $1 AND e.sender = $2 AND e.created_at >= $3`,
		userID, sender, since,
	).Scan(&h.Decisions, &h.AutoResponded, &h.Approved, &h.Retracted, &h.MarkedIncorrect)
	if err != nil {
		return nil, fmt.Errorf("sender history: %w", err)
	}
	return h, nil
}

func scanAuditEntry(row scannable) (audit.Entry, error) {
	var (
		e                                       audit.Entry
		requestType, action, forcedBy           string
		assessmentJSON, convJSON, breakerJSON   []byte
		calendarJSON                            []byte
		overrideKind, overrideReason, overActor *string
		overrideAt                              *time.Time
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ThreadID, &e.ConversationID, &e.MessageID, &e.Sender, &requestType,
		&action, &forcedBy, &assessmentJSON, &convJSON, &breakerJSON, &calendarJSON, &e.Rationale, &e.CreatedAt,
		&e.NotifiedAt, &overrideKind, &overrideReason, &overActor, &overrideAt)
	if err != nil {
		return e, err
	}
	e.RequestType = message.RequestType(requestType)
	e.Action = decision.Outcome(action)
	e.ForcedBy = decision.ForcedBy(forcedBy)
	e.Rationale = orEmpty(e.Rationale)

	if err := unmarshalSnapshots(&e, assessmentJSON, convJSON, breakerJSON, calendarJSON); err != nil {
		return e, err
	}
	if overrideKind != nil {
		e.Override = &audit.Override{Kind: audit.OverrideKind(*overrideKind)}
		if overrideReason != nil {
			e.Override.Reason = *overrideReason
		}
		if overActor != nil {
			e.Override.Actor = *overActor
		}
		if overrideAt != nil {
			e.Override.At = *overrideAt
		}
	}
	return e, nil
}

func unmarshalSnapshots(e *audit.Entry, assessmentJSON, convJSON, breakerJSON, calendarJSON []byte) error {
	if len(assessmentJSON) > 0 {
		if err := json.Unmarshal(assessmentJSON, &e.Assessment); err != nil {
			return fmt.Errorf("unmarshal assessment: %w", err)
		}
	}
	if err := json.Unmarshal(convJSON, &e.Conversation); err != nil {
		return fmt.Errorf("unmarshal conversation snapshot: %w", err)
	}
	if err := json.Unmarshal(breakerJSON, &e.Breaker); err != nil {
		return fmt.Errorf("unmarshal breaker snapshot: %w", err)
	}
	if len(calendarJSON) > 0 {
		if err := json.Unmarshal(calendarJSON, &e.Calendar); err != nil {
			return fmt.Errorf("unmarshal calendar snapshot: %w", err)
		}
	}
	return nil
}

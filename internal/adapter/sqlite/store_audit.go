package sqlite

import (
	"context"
	"database/sql"
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
	var assessmentJSON, calendarJSON sql.NullString
	if e.Assessment != nil {
		b, err := json.Marshal(e.Assessment)
		if err != nil {
			return fmt.Errorf("marshal assessment: %w", err)
		}
		assessmentJSON = sql.NullString{String: string(b), Valid: true}
	}
	if e.Calendar != nil {
		b, err := json.Marshal(e.Calendar)
		if err != nil {
			return fmt.Errorf("marshal calendar: %w", err)
		}
		calendarJSON = sql.NullString{String: string(b), Valid: true}
	}
	convJSON, err := json.Marshal(e.Conversation)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	breakerJSON, err := json.Marshal(e.Breaker)
	if err != nil {
		return fmt.Errorf("marshal breaker: %w", err)
	}
	rationale, err := jsonText(e.Rationale)
	if err != nil {
		return fmt.Errorf("marshal rationale: %w", err)
	}

	var confidence any
	if c := e.Confidence(); c != nil {
		confidence = *c
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, user_id, thread_id, conversation_id, message_id, sender, request_type,
		                            action, forced_by, confidence, assessment, conversation, breaker, calendar,
		                            rationale, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ThreadID, e.ConversationID, e.MessageID, e.Sender, string(e.RequestType),
		string(e.Action), string(e.ForcedBy), confidence, assessmentJSON, string(convJSON), string(breakerJSON),
		calendarJSON, rationale, ts(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create audit entry %s: %w", e.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create audit entry: %w", err)
	}
	return nil
}

func (s *Store) GetAuditEntry(ctx context.Context, id string) (*audit.Entry, error) {
	e, err := scanAuditEntry(s.db.QueryRowContext(ctx, auditSelect+` WHERE e.id = ?`, id))
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

	if f.UserID != "" {
		clauses = append(clauses, "e.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ThreadID != "" {
		clauses = append(clauses, "e.thread_id = ?")
		args = append(args, f.ThreadID)
	}
	if f.MessageID != "" {
		clauses = append(clauses, "e.message_id = ?")
		args = append(args, f.MessageID)
	}
	if f.Sender != "" {
		clauses = append(clauses, "e.sender = ?")
		args = append(args, f.Sender)
	}
	if f.Action != "" {
		clauses = append(clauses, "e.action = ?")
		args = append(args, string(f.Action))
	}
	if f.Since != nil {
		clauses = append(clauses, "e.created_at >= ?")
		args = append(args, ts(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "e.created_at <= ?")
		args = append(args, ts(*f.Until))
	}
	if f.MinConfidence != nil {
		clauses = append(clauses, "e.confidence >= ?")
		args = append(args, *f.MinConfidence)
	}
	if f.MaxConfidence != nil {
		clauses = append(clauses, "e.confidence <= ?")
		args = append(args, *f.MaxConfidence)
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

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_overrides (entry_id, kind, reason, actor, at) VALUES (?, ?, ?, ?, ?)`,
		entryID, string(o.Kind), o.Reason, o.Actor, ts(o.At))
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_notifications (entry_id, notified_at) VALUES (?, ?)
		 ON CONFLICT (entry_id) DO NOTHING`, entryID, ts(at))
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.action, e.forced_by <> '', o.kind, COUNT(*)
		 FROM audit_entries e
		 LEFT JOIN audit_overrides o ON o.entry_id = e.id
		 WHERE e.user_id = ? AND e.created_at >= ?
		 GROUP BY 1, 2, 3`, userID, ts(since))
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action string
			forced bool
			kind   sql.NullString
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
		if kind.Valid {
			st.Overrides[audit.OverrideKind(kind.String)] += n
		}
	}
	return st, rows.Err()
}

func (s *Store) SenderHistory(ctx context.Context, userID, sender string, since time.Time) (*audit.SenderHistory, error) {
	h := &audit.SenderHistory{Sender: sender}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN e.action = 'auto_respond' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN o.kind = 'approved' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN o.kind = 'retracted' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN o.kind = 'marked_incorrect' THEN 1 ELSE 0 END), 0)
		 FROM audit_entries e
		 LEFT JOIN audit_overrides o ON o.entry_id = e.id
		 WHERE e.user_id = ? AND e.sender = ? AND e.created_at >= ?`,
		userID, sender, ts(since),
	).Scan(&h.Decisions, &h.AutoResponded, &h.Approved, &h.Retracted, &h.MarkedIncorrect)
	if err != nil {
		return nil, fmt.Errorf("sender history: %w", err)
	}
	return h, nil
}

func scanAuditEntry(row scanner) (audit.Entry, error) {
	var (
		e                                                   audit.Entry
		requestType, action, forcedBy, created, rationale   string
		convJSON, breakerJSON                               string
		assessmentJSON, calendarJSON, notified              sql.NullString
		overrideKind, overrideReason, overActor, overrideAt sql.NullString
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ThreadID, &e.ConversationID, &e.MessageID, &e.Sender, &requestType,
		&action, &forcedBy, &assessmentJSON, &convJSON, &breakerJSON, &calendarJSON, &rationale, &created,
		&notified, &overrideKind, &overrideReason, &overActor, &overrideAt)
	if err != nil {
		return e, err
	}
	e.RequestType = message.RequestType(requestType)
	e.Action = decision.Outcome(action)
	e.ForcedBy = decision.ForcedBy(forcedBy)
	if e.CreatedAt, err = parseTS(created); err != nil {
		return e, err
	}
	if e.NotifiedAt, err = parseNullTS(notified); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(rationale), &e.Rationale); err != nil {
		return e, fmt.Errorf("unmarshal rationale: %w", err)
	}
	e.Rationale = orEmpty(e.Rationale)

	if assessmentJSON.Valid {
		if err := json.Unmarshal([]byte(assessmentJSON.String), &e.Assessment); err != nil {
			return e, fmt.Errorf("unmarshal assessment: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(convJSON), &e.Conversation); err != nil {
		return e, fmt.Errorf("unmarshal conversation snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(breakerJSON), &e.Breaker); err != nil {
		return e, fmt.Errorf("unmarshal breaker snapshot: %w", err)
	}
	if calendarJSON.Valid {
		if err := json.Unmarshal([]byte(calendarJSON.String), &e.Calendar); err != nil {
			return e, fmt.Errorf("unmarshal calendar snapshot: %w", err)
		}
	}

	if overrideKind.Valid {
		at, err := parseTS(overrideAt.String)
		if err != nil {
			return e, err
		}
		e.Override = &audit.Override{
			Kind:   audit.OverrideKind(overrideKind.String),
			Reason: overrideReason.String,
			Actor:  overActor.String,
			At:     at,
		}
	}
	return e, nil
}

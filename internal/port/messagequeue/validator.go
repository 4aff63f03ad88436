package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target interface{ required() error }
	switch subject {
	case SubjectClassified:
		target = &classified{}
	case SubjectDecided:
		target = &DecidedPayload{}
	case SubjectBreakerChanged:
		target = &BreakerChangedPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := target.required(); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

type classified struct{ ClassifiedPayload }

func (c *classified) required() error {
	return c.Validate()
}

func (p *DecidedPayload) required() error {
	if p.AuditEntryID == "" || p.UserID == "" || p.Outcome == "" {
		return errors.New("audit_entry_id, user_id and outcome are required")
	}
	return nil
}

func (p *BreakerChangedPayload) required() error {
	if p.UserID == "" || p.To == "" {
		return errors.New("user_id and to are required")
	}
	return nil
}

package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
)

// importSchema constrains bulk import payloads before any event reaches the
// ledger. Statuses and timestamps are re-validated by the ledger itself; the
// schema exists to reject malformed batches with per-field detail up front.
const importSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["events"],
	"additionalProperties": false,
	"properties": {
		"events": {
			"type": "array",
			"minItems": 1,
			"maxItems": 500,
			"items": {
				"type": "object",
				"required": ["status"],
				"additionalProperties": false,
				"properties": {
					"status": {"enum": ["IN", "OUT"]},
					"timestamp": {"type": "string", "format": "date-time"}
				}
			}
		}
	}
}`

type importPayload struct {
	Events []importEvent `json:"events"`
}

type importEvent struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ImportService ingests batches of attendance events in timeline order.
// Each event goes through the ledger's normal validation; the first failure
// aborts the batch, leaving earlier events accepted.
type ImportService struct {
	ledger   *LedgerService
	compiled *santhosh.Schema
}

func NewImportService(ledger *LedgerService) *ImportService {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("import.json", bytes.NewReader([]byte(importSchema))); err != nil {
		panic(fmt.Sprintf("add import schema resource: %v", err))
	}
	compiled, err := compiler.Compile("import.json")
	if err != nil {
		panic(fmt.Sprintf("compile import schema: %v", err))
	}
	return &ImportService{ledger: ledger, compiled: compiled}
}

func (s *ImportService) Import(ctx context.Context, userID string, raw json.RawMessage) ([]domain.AttendanceEvent, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := s.validate(raw); err != nil {
		return nil, err
	}

	var payload importPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &domain.ErrImportViolation{Errors: []string{err.Error()}}
	}

	accepted := make([]domain.AttendanceEvent, 0, len(payload.Events))
	for i, in := range payload.Events {
		status, err := domain.ParseStatus(in.Status)
		if err != nil {
			return accepted, fmt.Errorf("import event %d: %w", i, err)
		}
		var ts time.Time
		if in.Timestamp != "" {
			ts, err = time.Parse(time.RFC3339Nano, in.Timestamp)
			if err != nil {
				return accepted, fmt.Errorf("import event %d: %w", i, &domain.ErrImportViolation{Errors: []string{err.Error()}})
			}
		}
		event, err := s.ledger.Record(ctx, userID, status, ts)
		if err != nil {
			return accepted, fmt.Errorf("import event %d: %w", i, err)
		}
		accepted = append(accepted, event)
	}
	return accepted, nil
}

func (s *ImportService) validate(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return &domain.ErrImportViolation{Errors: []string{"payload must be valid json"}}
	}
	if err := s.compiled.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrImportViolation{Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrImportViolation{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}

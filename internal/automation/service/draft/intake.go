package draft

import (
	"context"
	"errors"

	"taskgate/internal/automation/models"
	"taskgate/internal/automation/parser"
	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/requestcontext"
)

// IntakeResult answers one conversational message. Exactly one of Draft or
// ParseError is set.
type IntakeResult struct {
	Intent       *parser.ParsedIntent `json:"intent,omitempty"`
	Draft        *models.Draft        `json:"draft,omitempty"`
	NextQuestion string               `json:"next_question,omitempty"`
	ParseError   *parser.ParseError   `json:"parse_error,omitempty"`
	DisplayText  string               `json:"display_text"`
}

// Intake parses text and applies its params to the caller's active draft for
// the parsed intent. A parse failure is returned as data so the caller can re-prompt.
func (s *Service) Intake(ctx context.Context, session id.SessionID, text string) (*IntakeResult, error) {
	if s.parser == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "intent parser not configured")
	}
	principal, ok := requestcontext.PrincipalFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing principal")
	}

	display := parser.StripIntentBlocks(text)
	intent, err := s.parser.Parse(text)
	if err != nil {
		var perr *parser.ParseError
		if !errors.As(err, &perr) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to parse message")
		}
		s.metrics.IncParseResult(string(perr.Kind))
		s.logger.InfoContext(ctx, "intent parse failed",
			"request_id", requestcontext.RequestID(ctx),
			"kind", string(perr.Kind),
		)
		return &IntakeResult{ParseError: perr, DisplayText: display}, nil
	}
	s.metrics.IncParseResult("ok")

	d, err := s.GetOrCreate(ctx, models.DraftKey{
		SessionID: session,
		TenantID:  principal.TenantID,
		UserID:    principal.UserID,
		IntentKey: intent.Key,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.ApplyParams(ctx, principal.TenantID, d.ID, d.Version, intent.Params)
	if err != nil {
		return nil, err
	}
	return &IntakeResult{
		Intent:       intent,
		Draft:        res.Draft,
		NextQuestion: res.NextQuestion,
		DisplayText:  display,
	}, nil
}

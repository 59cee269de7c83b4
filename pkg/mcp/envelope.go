package mcp

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kwkeefer/hiro/pkg/cookies"
	"github.com/kwkeefer/hiro/pkg/repository"
)

// ErrorKind values are stable strings the agent can branch on.
const (
	KindValidationFailed    = "validation_failed"
	KindNotFound            = "not_found"
	KindConflict            = "conflict"
	KindDuplicate           = "duplicate"
	KindInsecurePermissions = "insecure_permissions"
	KindPathEscape          = "path_escape"
	KindParseError          = "parse_error"
	KindTimeout             = "timeout"
	KindTransportError      = "transport_error"
	KindStoreUnavailable    = "store_unavailable"
	KindInternal            = "internal"
)

// FieldError describes one offending parameter. Validation is
// all-errors-at-once: every field is checked before the tool returns.
type FieldError struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Got      any    `json:"got,omitempty"`
}

// ToolError is the structured error carried in the response envelope.
type ToolError struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Envelope is the uniform tool response shape.
type Envelope struct {
	OK                 bool       `json:"ok"`
	Result             any        `json:"result,omitempty"`
	Error              *ToolError `json:"error,omitempty"`
	MissionContextNote string     `json:"mission_context_note,omitempty"`
}

func validationError(fields []FieldError) *ToolError {
	return &ToolError{
		Kind:    KindValidationFailed,
		Message: fmt.Sprintf("%d parameter(s) failed validation", len(fields)),
		Fields:  fields,
	}
}

func notFoundError(what string) *ToolError {
	return &ToolError{Kind: KindNotFound, Message: what + " not found"}
}

func conflictError(message string) *ToolError {
	return &ToolError{Kind: KindConflict, Message: message}
}

func duplicateError(existingID string, score float64) *ToolError {
	return &ToolError{
		Kind:    KindDuplicate,
		Message: fmt.Sprintf("content is %.2f similar to existing entry %s", score, existingID),
	}
}

func storeUnavailableError() *ToolError {
	return &ToolError{Kind: KindStoreUnavailable, Message: "database is disabled or unreachable"}
}

func embeddingsUnavailableError() *ToolError {
	return &ToolError{
		Kind:    KindValidationFailed,
		Message: "embeddings_unavailable: no embedding model is configured",
	}
}

// internalError logs the underlying cause and returns a short correlation
// id instead of leaking it to the agent.
func internalError(err error) *ToolError {
	correlationID := uuid.New().String()[:8]
	slog.Error("Internal tool error", "correlation_id", correlationID, "error", err)
	return &ToolError{
		Kind:    KindInternal,
		Message: "internal error (correlation id " + correlationID + ")",
	}
}

// mapError folds repository and cookie errors into stable kinds; anything
// unrecognised becomes internal with a correlation id.
func mapError(err error) *ToolError {
	var toolErr *ToolError
	switch {
	case errors.As(err, &toolErr):
		return toolErr
	case errors.Is(err, repository.ErrNotFound):
		return &ToolError{Kind: KindNotFound, Message: "entity not found"}
	case errors.Is(err, repository.ErrConflict):
		return conflictError("concurrent modification lost the race; retry against the new state")
	case errors.Is(err, cookies.ErrUnknownProfile):
		return &ToolError{Kind: KindNotFound, Message: err.Error()}
	case errors.Is(err, cookies.ErrPathEscape):
		return &ToolError{Kind: KindPathEscape, Message: err.Error()}
	case errors.Is(err, cookies.ErrInsecurePermissions):
		return &ToolError{Kind: KindInsecurePermissions, Message: err.Error()}
	case errors.Is(err, cookies.ErrParse):
		return &ToolError{Kind: KindParseError, Message: err.Error()}
	default:
		return internalError(err)
	}
}

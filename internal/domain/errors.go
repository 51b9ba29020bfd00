package domain

import "fmt"

// AppError is the base domain error type.
type AppError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Status    int    `json:"-"`
	Retryable bool   `json:"retryable,omitempty"`
	Cause     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, domain.ErrBanned()).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes sent to clients. They are part of the wire contract.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDuplicateSession   = "DUPLICATE_SESSION"
	CodeBanned             = "BANNED"
	CodeAlreadySearching   = "ALREADY_SEARCHING"
	CodeAlreadyInBattle    = "ALREADY_IN_BATTLE"
	CodeNothingToCancel    = "NOTHING_TO_CANCEL"
	CodeInvalidDeck        = "INVALID_DECK"
	CodeInvalidStatus      = "INVALID_STATUS_TRANSITION"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeRoomFull           = "ROOM_FULL"
	CodeNotInDeck          = "NOT_IN_DECK"
	CodeCardNotFound       = "CARD_NOT_FOUND"
	CodeInsufficientElixir = "INSUFFICIENT_ELIXIR"
	CodeInvalidZone        = "INVALID_ZONE"
	CodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeRateLimited        = "RATE_LIMITED"
)

// Standard domain error constructors.

func ErrNotFound(entity, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", entity, id), Status: 404}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg, Status: 400}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: msg, Status: 401}
}

func ErrInternal(msg string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: msg, Status: 500, Cause: cause}
}

func ErrRateLimited(msg string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: msg, Status: 429, Retryable: true}
}

// Session errors, rejected at join time.

func ErrDuplicateSession(sessionID string) *AppError {
	return &AppError{Code: CodeDuplicateSession, Message: fmt.Sprintf("session %s already connected", sessionID), Status: 409}
}

func ErrBanned() *AppError {
	return &AppError{Code: CodeBanned, Message: "account is banned", Status: 403}
}

func ErrSessionNotFound(sessionID string) *AppError {
	return &AppError{Code: CodeSessionNotFound, Message: fmt.Sprintf("session %s not found", sessionID), Status: 404}
}

func ErrRoomNotFound(battleID string) *AppError {
	return &AppError{Code: CodeRoomNotFound, Message: fmt.Sprintf("battle room %s not found", battleID), Status: 404}
}

func ErrRoomFull() *AppError {
	return &AppError{Code: CodeRoomFull, Message: "battle room is full", Status: 409}
}

// Hub intent errors.

func ErrAlreadySearching() *AppError {
	return &AppError{Code: CodeAlreadySearching, Message: "already searching for a battle", Status: 409}
}

func ErrAlreadyInBattle() *AppError {
	return &AppError{Code: CodeAlreadyInBattle, Message: "already in a battle", Status: 409}
}

func ErrNothingToCancel() *AppError {
	return &AppError{Code: CodeNothingToCancel, Message: "not searching", Status: 409}
}

func ErrInvalidDeck(msg string) *AppError {
	return &AppError{Code: CodeInvalidDeck, Message: msg, Status: 400}
}

func ErrInvalidStatusTransition(from, to PlayerStatus) *AppError {
	return &AppError{Code: CodeInvalidStatus, Message: fmt.Sprintf("cannot change status from %s to %s", from, to), Status: 409}
}

// Battle command validation errors.

func ErrNotInDeck(cardID string) *AppError {
	return &AppError{Code: CodeNotInDeck, Message: fmt.Sprintf("card %s is not in your deck", cardID), Status: 400}
}

func ErrCardNotFound(cardID string) *AppError {
	return &AppError{Code: CodeCardNotFound, Message: fmt.Sprintf("card %s not found", cardID), Status: 404}
}

func ErrInsufficientElixir(have, need int) *AppError {
	return &AppError{Code: CodeInsufficientElixir, Message: fmt.Sprintf("insufficient elixir: have %d, need %d", have, need), Status: 400}
}

func ErrInvalidZone(x, y float64) *AppError {
	return &AppError{Code: CodeInvalidZone, Message: fmt.Sprintf("cannot deploy at (%.1f, %.1f)", x, y), Status: 400}
}

// Transient external errors.

func ErrCatalogUnavailable(cause error) *AppError {
	return &AppError{Code: CodeCatalogUnavailable, Message: "card catalog unavailable, retry", Status: 503, Retryable: true, Cause: cause}
}

func ErrPersistenceFailed(cause error) *AppError {
	return &AppError{Code: CodePersistenceFailed, Message: "persistence unavailable", Status: 503, Retryable: true, Cause: cause}
}

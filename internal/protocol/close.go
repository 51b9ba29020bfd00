package protocol

import "github.com/crownarena/server/internal/domain"

// WebSocket close codes used when a connection is rejected. The 4000-4999 range
// is reserved for applications by RFC 6455; values here are stable.
const (
	CloseUnauthorized     = 4001
	CloseBanned           = 4002
	CloseDuplicateSession = 4003
	CloseRoomNotFound     = 4004
	CloseRoomFull         = 4005
	CloseInvalidDeck      = 4006
	CloseRateLimited      = 4007
	CloseInactive         = 4008
	CloseInternal         = 4500
)

// CloseCodeFor maps a join rejection error to its close code and reason.
func CloseCodeFor(err error) (int, string) {
	appErr, ok := err.(*domain.AppError)
	if !ok {
		return CloseInternal, "internal server error"
	}
	switch appErr.Code {
	case domain.CodeUnauthorized:
		return CloseUnauthorized, appErr.Message
	case domain.CodeBanned:
		return CloseBanned, appErr.Message
	case domain.CodeDuplicateSession:
		return CloseDuplicateSession, appErr.Message
	case domain.CodeRoomNotFound, domain.CodeSessionNotFound:
		return CloseRoomNotFound, appErr.Message
	case domain.CodeRoomFull:
		return CloseRoomFull, appErr.Message
	case domain.CodeInvalidDeck:
		return CloseInvalidDeck, appErr.Message
	case domain.CodeRateLimited:
		return CloseRateLimited, appErr.Message
	default:
		return CloseInternal, appErr.Message
	}
}

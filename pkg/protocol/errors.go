package protocol

// Datachannel error codes carried in ErrorMessage.Code.
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeStaleCommand   = "STALE_COMMAND"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeSafeStopped    = "SAFE_STOPPED"
	ErrCodeSessionRevoked = "SESSION_REVOKED"
)

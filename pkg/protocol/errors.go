package protocol

// Error codes attached to bridge-level failures. String codes rather than an
// enum so downstream consumers can match without importing Go types.
const (
	ErrCodeNotConnected    = "NOT_CONNECTED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeAuthentication  = "AUTHENTICATION_FAILED"
	ErrCodeSetupRedirect   = "SETUP_REDIRECT"
	ErrCodeMisconnection   = "PROTOCOL_MISCONNECTION"
	ErrCodeServer          = "SERVER_ERROR"
	ErrCodeFailureBudget   = "FAILURE_BUDGET_EXHAUSTED"
	ErrCodeSessionDemoted  = "SESSION_DEMOTED"
	ErrCodeUserUnavailable = "USER_ID_UNAVAILABLE"
)

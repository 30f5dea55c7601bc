package apperrors

type Code string

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeInternal           Code = "INTERNAL"
)

// Reasons attached to rejected chat operations.
const (
	ReasonChannelNotModifiable = "channel_not_modifiable"
	ReasonNotAllowed           = "not_allowed"
	ReasonNotFollowing         = "not_following"
	ReasonTooManyReactions     = "too_many_reactions"
	ReasonInvalidEmoji         = "invalid_emoji"
	ReasonInvalidReactAction   = "invalid_react_action"
	ReasonDeleteQuotaExceeded  = "delete_quota_exceeded"
	ReasonMessageTooLong       = "message_too_long"
	ReasonMessageBlank         = "message_blank"
	ReasonInvalidReply         = "invalid_reply"
	ReasonInvalidStatus        = "invalid_status_transition"
	ReasonAlreadyFlagged       = "already_flagged"
	ReasonSilenced             = "silenced"
)

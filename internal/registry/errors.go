package registry

import "errors"

// Kind classifies registry errors by the kind of rule that was violated.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindValidation
	KindState
	KindResource
	KindNotFound
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindResource:
		return "resource"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a registry rule violation. Every Error is detected before any
// mutation, so a returned Error always means the transaction was rejected.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return "registry: " + e.Msg
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Authorization errors.
var (
	ErrUnauthorized = newError(KindAuthorization, "Unauthorized", "caller is not authorized")
)

// Validation errors.
var (
	ErrInvalidMintAddress  = newError(KindValidation, "InvalidMintAddress", "mint address does not satisfy vanity constraint")
	ErrInvalidHandleFormat = newError(KindValidation, "InvalidHandleFormat", "handle must match @[a-z0-9]+")
	ErrInvalidTier         = newError(KindValidation, "InvalidTier", "tier must be between 1 and 10")
	ErrUnsupportedPlatform = newError(KindValidation, "UnsupportedPlatform", "platform is not supported")
	ErrDuplicateKey        = newError(KindValidation, "DuplicateKey", "record already exists")
	ErrInvalidAddress      = newError(KindValidation, "InvalidAddress", "address must be 32 bytes of lowercase hex")
	ErrInvalidProofMode    = newError(KindValidation, "InvalidProofMode", "unknown proof mode")
	ErrInvalidAmount       = newError(KindValidation, "InvalidAmount", "amount must be greater than zero")
	ErrInvalidHexID        = newError(KindValidation, "InvalidHexId", "hex id must be 512 bytes")
)

// State errors.
var (
	ErrNotInitialized     = newError(KindState, "NotInitialized", "registry is not initialized")
	ErrAlreadyInitialized = newError(KindState, "AlreadyInitialized", "registry is already initialized")
	ErrIdentityExists     = newError(KindState, "IdentityExists", "owner already holds an active identity")
	ErrInactiveIdentity   = newError(KindState, "InactiveIdentity", "identity is inactive")
	ErrTierNotEligible    = newError(KindState, "TierNotEligible", "tier is not eligible for rewards")
	ErrScoreTooLow        = newError(KindState, "ScoreTooLow", "score is below the reward threshold")
	ErrClaimCooldown      = newError(KindState, "ClaimCooldown", "reward claim cooldown has not elapsed")
	ErrHandleMismatch     = newError(KindState, "HandleMismatch", "handle does not match target")
	ErrHexIDMismatch      = newError(KindState, "HexIdMismatch", "hex id does not match target")
	ErrSNSNotFound        = newError(KindState, "SnsNotFound", "target has no handle linked for platform")
	ErrSNSHandleMismatch  = newError(KindState, "SnsHandleMismatch", "linked handle does not match target")
	ErrSelfAction         = newError(KindState, "SelfAction", "agents cannot recommend or report themselves")
)

// Resource errors.
var (
	ErrAdminLimitReached        = newError(KindResource, "AdminLimitReached", "admin limit reached")
	ErrAdminAlreadyExists       = newError(KindResource, "AdminAlreadyExists", "admin already exists")
	ErrAdminNotFound            = newError(KindResource, "AdminNotFound", "admin not found")
	ErrCannotRemoveOwner        = newError(KindResource, "CannotRemoveOwner", "owner cannot be removed from admins")
	ErrInsufficientBalance      = newError(KindResource, "InsufficientBalance", "insufficient balance above retained minimum")
	ErrInsufficientTokenBalance = newError(KindResource, "InsufficientTokenBalance", "insufficient token balance in pool")
	ErrInsufficientFunds        = newError(KindResource, "InsufficientFunds", "insufficient funds for transfer")
)

// Not found errors.
var (
	ErrIdentityNotFound = newError(KindNotFound, "IdentityNotFound", "identity not found")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the registry, and the
// search layer return these (optionally wrapped) so callers can pattern-match
// with errors.Is instead of classifying exceptions.
//
// These represent factual states about keyrings and records:
// - ErrNotFound: no default/login store, no preference match, no list member
// - ErrAlreadyExists: creating a store that already has a backing database
// - ErrDuplicateMember: adding a store already present in a search list
// - ErrInvalidDomain: mutating the dynamic domain, or an unknown domain tag
// - ErrAuthFailure: bad unlock secret, or a privilege check failed
// - ErrUnavailable: a listed store cannot currently be opened; multi-store
//   scans skip over it instead of failing
// - ErrLocked: the store exists but is locked and the operation needs it open
// - ErrDataTooLarge: a name or label exceeds the backend's fixed buffer
// - ErrIOFailure: a persisted search-list or preference flush failed
// - ErrInteractionNotAllowed: an operation needed interactive UI and none is
//   available
var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrDuplicateMember       = errors.New("duplicate search list member")
	ErrInvalidDomain         = errors.New("invalid preferences domain")
	ErrAuthFailure           = errors.New("authorization failure")
	ErrUnavailable           = errors.New("store unavailable")
	ErrLocked                = errors.New("store locked")
	ErrDataTooLarge          = errors.New("data too large")
	ErrIOFailure             = errors.New("i/o failure")
	ErrInteractionNotAllowed = errors.New("user interaction not allowed")
)

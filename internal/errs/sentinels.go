// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Storage sentinels.
var (
	// ErrNotFound indicates the requested key or entity does not exist (or has expired).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation (e.g., product name taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Request and session sentinels. These are surfaced to callers with a specific code.
var (
	// ErrInvalidFormat indicates a malformed code or request field.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrMissingField indicates a required request field is empty.
	ErrMissingField = errors.New("missing field")

	// ErrSessionExpired indicates an unknown or expired client identifier.
	ErrSessionExpired = errors.New("session expired")

	// ErrTimestampExpired indicates a request timestamp outside the replay window.
	ErrTimestampExpired = errors.New("timestamp expired")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates a temporary block due to repeated failures.
	ErrRateLimited = errors.New("rate limited")
)

// Activation-domain sentinels. Never surfaced as distinct outcomes to clients.
var (
	// ErrLockContended indicates another holder owns the advisory lock.
	ErrLockContended = errors.New("lock contended")

	// ErrVerificationFailed covers bad integrity, wrong product, expired or exhausted codes.
	ErrVerificationFailed = errors.New("verification failed")
)

// ErrServer indicates an internal fault such as missing server keys.
var ErrServer = errors.New("server error")

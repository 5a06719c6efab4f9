package access

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("access: not found")
	// ErrConflict indicates a uniqueness or referential-integrity violation,
	// e.g. deleting a group that still has members.
	ErrConflict = errors.New("access: conflict")
	// ErrInvalidInput indicates malformed or missing caller input.
	ErrInvalidInput = errors.New("access: invalid input")

	// ErrTokenInvalid indicates an unknown or already-consumed token.
	ErrTokenInvalid = errors.New("access: token invalid")
	// ErrTokenExpired indicates the token exists but its expiry has passed.
	ErrTokenExpired = errors.New("access: token expired")
	// ErrAccountInactive indicates the owning account can no longer act.
	ErrAccountInactive = errors.New("access: account inactive")
	// ErrPermissionDenied indicates an authorization failure.
	ErrPermissionDenied = errors.New("access: permission denied")

	// ErrNotFullyVerified indicates a password reset was attempted before
	// both recovery factors passed.
	ErrNotFullyVerified = errors.New("access: reset not fully verified")
	// ErrInvalidAnswers indicates too few security answers matched. The
	// caller may retry with the same token until it expires.
	ErrInvalidAnswers = errors.New("access: invalid security answers")
	// ErrDuplicateAnswer indicates the same question was answered twice.
	ErrDuplicateAnswer = errors.New("access: duplicate answer")

	// ErrInvalidCredentials indicates a failed email/password login.
	ErrInvalidCredentials = errors.New("access: invalid credentials")
)

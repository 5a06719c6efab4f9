package access

import "time"

// Settings carries the tenant-configurable knobs of the access subsystem.
// It is loaded once per tenant context and passed by reference into the
// services; there is no ambient global configuration.
type Settings struct {
	// SessionTTL is the lifetime of a plain login session.
	SessionTTL time.Duration
	// RememberTTL is the lifetime of a remember-me session.
	RememberTTL time.Duration
	// VerificationTTL is how long a pending registration stays claimable.
	VerificationTTL time.Duration
	// ResetTTL is how long a password reset token stays usable.
	ResetTTL time.Duration
	// AnswerQuorum is the number of correct security answers required to
	// pass recovery. Zero means every answer the user has on file.
	AnswerQuorum int
	// QuestionsPerUser is how many questions a registrant must answer.
	QuestionsPerUser int
	// MinPasswordLength guards registration and password resets.
	MinPasswordLength int
}

// DefaultSettings returns the tenant defaults used when provisioning.
func DefaultSettings() *Settings {
	return &Settings{
		SessionTTL:        2 * time.Hour,
		RememberTTL:       30 * 24 * time.Hour,
		VerificationTTL:   24 * time.Hour,
		ResetTTL:          time.Hour,
		AnswerQuorum:      0,
		QuestionsPerUser:  3,
		MinPasswordLength: 8,
	}
}

// sessionTTL picks the lifetime for a new session.
func (s *Settings) sessionTTL(remember bool) time.Duration {
	if remember {
		return s.RememberTTL
	}
	return s.SessionTTL
}

// quorum resolves the required number of correct answers given how many
// answers the user has on file.
func (s *Settings) quorum(onFile int) int {
	if s.AnswerQuorum <= 0 || s.AnswerQuorum > onFile {
		return onFile
	}
	return s.AnswerQuorum
}

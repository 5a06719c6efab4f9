package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitewright.io/internal/ids"
)

// Mailer delivers recovery tokens. The core only produces the token and
// never blocks on delivery; implementations are fire-and-forget.
type Mailer interface {
	SendVerification(ctx context.Context, email, token string)
	SendPasswordReset(ctx context.Context, email, token string)
}

// Recovery runs the two credential-recovery state machines: registration
// email verification and two-factor password reset.
type Recovery struct {
	store    Store
	settings *Settings
	recorder Recorder
	mailer   Mailer
	now      func() time.Time
}

// RecoveryOption configures Recovery behavior.
type RecoveryOption func(*Recovery)

// WithRecoveryClock overrides the time source (useful for tests).
func WithRecoveryClock(fn func() time.Time) RecoveryOption {
	return func(r *Recovery) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithMailer attaches the outbound email collaborator.
func WithMailer(m Mailer) RecoveryOption {
	return func(r *Recovery) { r.mailer = m }
}

// NewRecovery constructs the recovery service. The recorder may be nil.
func NewRecovery(store Store, settings *Settings, recorder Recorder, opts ...RecoveryOption) (*Recovery, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	r := &Recovery{store: store, settings: settings, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RegistrationInput is the caller-facing registration form.
type RegistrationInput struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	DisplayName string   `json:"display_name,omitempty"`
	Answers     []Answer `json:"answers"`
}

// Submit stores a pending registration keyed by a fresh token. No user row
// exists until the address is verified; an unclaimed registration simply
// expires. The password and every answer are hashed before persistence.
func (r *Recovery) Submit(ctx context.Context, input RegistrationInput) (string, error) {
	email := NormalizeEmail(input.Email)
	if !ValidEmail(email) {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(input.Password) < r.settings.MinPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, r.settings.MinPasswordLength)
	}
	if _, err := r.store.GetUserByEmail(ctx, email); err == nil {
		return "", fmt.Errorf("%w: email already registered", ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	records, err := r.hashAnswers(ctx, input.Answers)
	if err != nil {
		return "", err
	}
	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return "", err
	}

	now := r.now().UTC()
	verification := &EmailVerification{
		Email: email,
		Registration: Registration{
			Email:        email,
			PasswordHash: passwordHash,
			DisplayName:  strings.TrimSpace(input.DisplayName),
			Answers:      records,
		},
		ExpiresAt: now.Add(r.settings.VerificationTTL),
		CreatedAt: now,
	}
	token, err := insertWithToken(ctx, func(ctx context.Context, token string) error {
		verification.Token = token
		return r.store.CreateVerification(ctx, verification)
	})
	if err != nil {
		return "", err
	}
	r.record(ctx, "registration.submitted", "", map[string]any{"email": email})
	if r.mailer != nil {
		r.mailer.SendVerification(ctx, email, token)
	}
	return token, nil
}

// Verify consumes a verification token and creates the account: assigned
// to the tenant's default group, active, email verified. The consume is an
// atomic delete, so a token verifies exactly once; the second caller gets
// ErrTokenInvalid. An expired token is discarded without creating anything.
func (r *Recovery) Verify(ctx context.Context, token string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	verification, err := r.store.ConsumeVerification(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	now := r.now().UTC()
	if !verification.ExpiresAt.After(now) {
		return nil, ErrTokenExpired
	}
	defaultGroup, err := r.store.DefaultGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve default group: %w", err)
	}
	user := &User{
		ID:              ids.New(),
		GroupID:         defaultGroup.ID,
		Email:           verification.Email,
		DisplayName:     verification.Registration.DisplayName,
		PasswordHash:    verification.Registration.PasswordHash,
		Status:          StatusActive,
		EmailVerified:   true,
		EmailVerifiedAt: &now,
		Overrides:       PermissionMap{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	if len(verification.Registration.Answers) > 0 {
		answers := make([]UserSecurityAnswer, 0, len(verification.Registration.Answers))
		for _, rec := range verification.Registration.Answers {
			answers = append(answers, UserSecurityAnswer{
				UserID:     user.ID,
				QuestionID: rec.QuestionID,
				AnswerHash: rec.AnswerHash,
			})
		}
		if err := r.store.SaveAnswers(ctx, user.ID, answers); err != nil {
			return nil, err
		}
	}
	r.record(ctx, "registration.verified", user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// Request opens a password reset gate for the account: both factors start
// unverified. The token travels by email; the answers are asked later.
func (r *Recovery) Request(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := r.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	now := r.now().UTC()
	reset := &PasswordReset{
		UserID:    user.ID,
		ExpiresAt: now.Add(r.settings.ResetTTL),
		CreatedAt: now,
	}
	token, err := insertWithToken(ctx, func(ctx context.Context, token string) error {
		reset.Token = token
		return r.store.CreateReset(ctx, reset)
	})
	if err != nil {
		return "", err
	}
	r.record(ctx, "reset.requested", user.ID, nil)
	if r.mailer != nil {
		r.mailer.SendPasswordReset(ctx, email, token)
	}
	return token, nil
}

// ConfirmEmail flips the first factor: possession of the emailed token.
func (r *Recovery) ConfirmEmail(ctx context.Context, token string) error {
	reset, err := r.loadReset(ctx, token)
	if err != nil {
		return err
	}
	if err := r.store.MarkResetEmailVerified(ctx, reset.Token); err != nil {
		return err
	}
	r.record(ctx, "reset.email_confirmed", reset.UserID, nil)
	return nil
}

// ResetQuestions returns the catalogue questions the reset's owner has
// answers on file for, so the caller can render the challenge.
func (r *Recovery) ResetQuestions(ctx context.Context, token string) ([]SecurityQuestion, error) {
	reset, err := r.loadReset(ctx, token)
	if err != nil {
		return nil, err
	}
	answers, err := r.store.AnswersForUser(ctx, reset.UserID)
	if err != nil {
		return nil, err
	}
	answered := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = struct{}{}
	}
	catalogue, err := r.store.ListQuestions(ctx, false)
	if err != nil {
		return nil, err
	}
	var questions []SecurityQuestion
	for _, q := range catalogue {
		if _, ok := answered[q.ID]; ok {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// VerifyAnswers flips the second factor once enough submitted answers
// match. The email factor must already be confirmed. A failed attempt is
// recoverable: the caller may retry until the token expires.
func (r *Recovery) VerifyAnswers(ctx context.Context, token string, answers []Answer) error {
	reset, err := r.loadReset(ctx, token)
	if err != nil {
		return err
	}
	if !reset.EmailVerified {
		return ErrNotFullyVerified
	}
	stored, err := r.store.AnswersForUser(ctx, reset.UserID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return fmt.Errorf("%w: no security answers on file", ErrInvalidAnswers)
	}
	hashes := make(map[string]string, len(stored))
	for _, a := range stored {
		hashes[a.QuestionID] = a.AnswerHash
	}
	seen := make(map[string]struct{}, len(answers))
	correct := 0
	for _, answer := range answers {
		if _, dup := seen[answer.QuestionID]; dup {
			return fmt.Errorf("%w: question %s answered twice", ErrDuplicateAnswer, answer.QuestionID)
		}
		seen[answer.QuestionID] = struct{}{}
		if hash, ok := hashes[answer.QuestionID]; ok && VerifyAnswer(hash, answer.Answer) {
			correct++
		}
	}
	required := r.settings.quorum(len(stored))
	if correct < required {
		r.record(ctx, "reset.answers_failed", reset.UserID, map[string]any{"correct": correct, "required": required})
		return ErrInvalidAnswers
	}
	if err := r.store.MarkResetQuestionsVerified(ctx, reset.Token); err != nil {
		return err
	}
	r.record(ctx, "reset.answers_verified", reset.UserID, nil)
	return nil
}

// ResetPassword sets the new password once both factors have passed. The
// token is consumed atomically, every other outstanding reset for the user
// is invalidated, and all of the user's sessions are revoked.
func (r *Recovery) ResetPassword(ctx context.Context, token, newPassword string) error {
	reset, err := r.loadReset(ctx, token)
	if err != nil {
		return err
	}
	if !reset.IsFullyVerified() {
		return ErrNotFullyVerified
	}
	if len(newPassword) < r.settings.MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, r.settings.MinPasswordLength)
	}
	// Consume first: two concurrent resets on the same token must not both
	// succeed. The consumed row, not the earlier read, is authoritative.
	consumed, err := r.store.ConsumeReset(ctx, reset.Token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenInvalid
		}
		return err
	}
	if !consumed.IsFullyVerified() {
		return ErrNotFullyVerified
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := r.store.UpdateUserPassword(ctx, consumed.UserID, hash); err != nil {
		return err
	}
	if _, err := r.store.DeleteResetsByUser(ctx, consumed.UserID); err != nil {
		return err
	}
	if _, err := r.store.DeleteSessionsByUser(ctx, consumed.UserID); err != nil {
		return err
	}
	r.record(ctx, "reset.completed", consumed.UserID, nil)
	return nil
}

// PurgeExpired discards expired pending registrations and reset gates.
func (r *Recovery) PurgeExpired(ctx context.Context) (int64, error) {
	now := r.now().UTC()
	verifications, err := r.store.DeleteExpiredVerifications(ctx, now)
	if err != nil {
		return 0, err
	}
	resets, err := r.store.DeleteExpiredResets(ctx, now)
	if err != nil {
		return verifications, err
	}
	return verifications + resets, nil
}

// Questions returns the active question catalogue for registration forms.
func (r *Recovery) Questions(ctx context.Context) ([]SecurityQuestion, error) {
	return r.store.ListQuestions(ctx, true)
}

func (r *Recovery) loadReset(ctx context.Context, token string) (*PasswordReset, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	reset, err := r.store.GetResetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !reset.ExpiresAt.After(r.now().UTC()) {
		return nil, ErrTokenExpired
	}
	return reset, nil
}

func (r *Recovery) hashAnswers(ctx context.Context, answers []Answer) ([]AnswerRecord, error) {
	questions, err := r.store.ListQuestions(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, nil
	}
	required := r.settings.QuestionsPerUser
	if required > len(questions) {
		required = len(questions)
	}
	if len(answers) < required {
		return nil, fmt.Errorf("%w: %d security answers are required", ErrInvalidInput, required)
	}
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(answers))
	records := make([]AnswerRecord, 0, len(answers))
	for _, answer := range answers {
		if _, ok := known[answer.QuestionID]; !ok {
			return nil, fmt.Errorf("%w: unknown question %s", ErrInvalidInput, answer.QuestionID)
		}
		if _, dup := seen[answer.QuestionID]; dup {
			return nil, fmt.Errorf("%w: question %s answered twice", ErrDuplicateAnswer, answer.QuestionID)
		}
		seen[answer.QuestionID] = struct{}{}
		hash, err := HashAnswer(answer.Answer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		records = append(records, AnswerRecord{QuestionID: answer.QuestionID, AnswerHash: hash})
	}
	return records, nil
}

func (r *Recovery) record(ctx context.Context, action, userID string, details map[string]any) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(ctx, AuditEntry{Action: action, UserID: userID, Details: details})
}

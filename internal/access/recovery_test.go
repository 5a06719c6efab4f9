package access_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitewright.io/internal/access"
	"sitewright.io/internal/store/mem"
)

var testQuestions = []access.SecurityQuestion{
	{ID: "q-pet", Question: "First pet's name?", Position: 1, Active: true},
	{ID: "q-street", Question: "Street you grew up on?", Position: 2, Active: true},
	{ID: "q-teacher", Question: "Favourite teacher?", Position: 3, Active: true},
}

func newRecoveryFixture(t *testing.T, clock func() time.Time) (*mem.Store, *access.Recovery) {
	t.Helper()
	store := mem.NewStore()
	seedGroups(t, store)
	if err := store.EnsureQuestions(context.Background(), testQuestions); err != nil {
		t.Fatal(err)
	}
	var opts []access.RecoveryOption
	if clock != nil {
		opts = append(opts, access.WithRecoveryClock(clock))
	}
	recovery, err := access.NewRecovery(store, nil, storeRecorder{store}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return store, recovery
}

func registrationForm(email string) access.RegistrationInput {
	return access.RegistrationInput{
		Email:       email,
		Password:    "p4ssword-long-enough",
		DisplayName: "Grace",
		Answers: []access.Answer{
			{QuestionID: "q-pet", Answer: "Rex"},
			{QuestionID: "q-street", Answer: "Elm Street"},
			{QuestionID: "q-teacher", Answer: "Ms. Honey"},
		},
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, recovery := newRecoveryFixture(t, nil)

	token, err := recovery.Submit(ctx, registrationForm("Grace@Example.com "))
	if err != nil {
		t.Fatal(err)
	}

	// no account exists until the address is verified
	if _, err := store.GetUserByEmail(ctx, "grace@example.com"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected no user before verification, got %v", err)
	}

	user, err := recovery.Verify(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if user.Email != "grace@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.DisplayName != "Grace" {
		t.Fatalf("display name lost: %q", user.DisplayName)
	}
	if user.Status != access.StatusActive || !user.EmailVerified {
		t.Fatalf("expected active verified account, got %s verified=%v", user.Status, user.EmailVerified)
	}
	if user.GroupID != "g-members" {
		t.Fatalf("expected default group, got %s", user.GroupID)
	}

	answers, err := store.AnswersForUser(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 3 {
		t.Fatalf("expected 3 stored answers, got %d", len(answers))
	}
	for _, a := range answers {
		if a.AnswerHash == "" || a.AnswerHash == "rex" {
			t.Fatalf("answer stored without hashing: %+v", a)
		}
	}

	// a token verifies exactly once
	if _, err := recovery.Verify(ctx, token); !errors.Is(err, access.ErrTokenInvalid) {
		t.Fatalf("second verify: expected ErrTokenInvalid, got %v", err)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store, recovery := newRecoveryFixture(t, nil)

	form := registrationForm("henry@example.com")
	form.Password = "short"
	if _, err := recovery.Submit(ctx, form); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("short password: expected ErrInvalidInput, got %v", err)
	}

	form = registrationForm("not-an-email")
	if _, err := recovery.Submit(ctx, form); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("bad email: expected ErrInvalidInput, got %v", err)
	}

	form = registrationForm("henry@example.com")
	form.Answers = form.Answers[:1]
	if _, err := recovery.Submit(ctx, form); !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("too few answers: expected ErrInvalidInput, got %v", err)
	}

	form = registrationForm("henry@example.com")
	form.Answers[1] = form.Answers[0]
	if _, err := recovery.Submit(ctx, form); !errors.Is(err, access.ErrDuplicateAnswer) {
		t.Fatalf("duplicate answer: expected ErrDuplicateAnswer, got %v", err)
	}

	newActiveUser(t, store, "taken@example.com", "some-password")
	form = registrationForm("taken@example.com")
	if _, err := recovery.Submit(ctx, form); !errors.Is(err, access.ErrConflict) {
		t.Fatalf("taken email: expected ErrConflict, got %v", err)
	}
}

func TestVerificationExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	store, recovery := newRecoveryFixture(t, func() time.Time { return now })

	token, err := recovery.Submit(ctx, registrationForm("ivy@example.com"))
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(25 * time.Hour)
	if _, err := recovery.Verify(ctx, token); !errors.Is(err, access.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := store.GetUserByEmail(ctx, "ivy@example.com"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expired verification must not create a user, got %v", err)
	}
}

// completeRegistration drives a user through submit+verify.
func completeRegistration(t *testing.T, recovery *access.Recovery, email string) *access.User {
	t.Helper()
	ctx := context.Background()
	token, err := recovery.Submit(ctx, registrationForm(email))
	if err != nil {
		t.Fatal(err)
	}
	user, err := recovery.Verify(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	return user
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	store, recovery := newRecoveryFixture(t, nil)
	user := completeRegistration(t, recovery, "judy@example.com")

	sessions, err := access.NewSessions(store, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.Create(ctx, user, false, "", ""); err != nil {
		t.Fatal(err)
	}

	token, err := recovery.Request(ctx, "judy@example.com")
	if err != nil {
		t.Fatal(err)
	}

	// the answer gate is closed until the email factor passes
	if err := recovery.VerifyAnswers(ctx, token, nil); !errors.Is(err, access.ErrNotFullyVerified) {
		t.Fatalf("answers before email: expected ErrNotFullyVerified, got %v", err)
	}
	// and the password gate until both pass
	if err := recovery.ResetPassword(ctx, token, "brand-new-password"); !errors.Is(err, access.ErrNotFullyVerified) {
		t.Fatalf("reset before factors: expected ErrNotFullyVerified, got %v", err)
	}

	if err := recovery.ConfirmEmail(ctx, token); err != nil {
		t.Fatal(err)
	}

	questions, err := recovery.ResetQuestions(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 challenge questions, got %d", len(questions))
	}

	// a wrong answer keeps the gate closed but the token stays usable
	wrong := []access.Answer{
		{QuestionID: "q-pet", Answer: "Fido"},
		{QuestionID: "q-street", Answer: "Elm Street"},
		{QuestionID: "q-teacher", Answer: "Ms. Honey"},
	}
	if err := recovery.VerifyAnswers(ctx, token, wrong); !errors.Is(err, access.ErrInvalidAnswers) {
		t.Fatalf("expected ErrInvalidAnswers, got %v", err)
	}

	// matching is case and whitespace insensitive
	right := []access.Answer{
		{QuestionID: "q-pet", Answer: "  REX "},
		{QuestionID: "q-street", Answer: "elm street"},
		{QuestionID: "q-teacher", Answer: "ms. honey"},
	}
	if err := recovery.VerifyAnswers(ctx, token, right); err != nil {
		t.Fatal(err)
	}

	if err := recovery.ResetPassword(ctx, token, "brand-new-password"); err != nil {
		t.Fatal(err)
	}

	// the new password works, the old one does not
	updated, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := access.VerifyPassword(updated.PasswordHash, "brand-new-password"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
	if err := access.VerifyPassword(updated.PasswordHash, "p4ssword-long-enough"); err == nil {
		t.Fatal("old password still accepted")
	}

	// completing the reset revoked every session
	if n, err := store.DeleteSessionsByUser(ctx, user.ID); err != nil || n != 0 {
		t.Fatalf("expected sessions already revoked, %d left (err=%v)", n, err)
	}

	// and consumed the token
	if err := recovery.ResetPassword(ctx, token, "another-password-1"); !errors.Is(err, access.ErrTokenInvalid) {
		t.Fatalf("reused token: expected ErrTokenInvalid, got %v", err)
	}
}

func TestDuplicateResetAnswerRejected(t *testing.T) {
	ctx := context.Background()
	_, recovery := newRecoveryFixture(t, nil)
	completeRegistration(t, recovery, "kate@example.com")

	token, err := recovery.Request(ctx, "kate@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := recovery.ConfirmEmail(ctx, token); err != nil {
		t.Fatal(err)
	}
	dup := []access.Answer{
		{QuestionID: "q-pet", Answer: "Rex"},
		{QuestionID: "q-pet", Answer: "Rex"},
	}
	if err := recovery.VerifyAnswers(ctx, token, dup); !errors.Is(err, access.ErrDuplicateAnswer) {
		t.Fatalf("expected ErrDuplicateAnswer, got %v", err)
	}
}

func TestAnswerQuorum(t *testing.T) {
	ctx := context.Background()
	store := mem.NewStore()
	seedGroups(t, store)
	if err := store.EnsureQuestions(ctx, testQuestions); err != nil {
		t.Fatal(err)
	}
	settings := access.DefaultSettings()
	settings.AnswerQuorum = 2 // two of three is enough
	recovery, err := access.NewRecovery(store, settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	completeRegistration(t, recovery, "liam@example.com")

	token, err := recovery.Request(ctx, "liam@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if err := recovery.ConfirmEmail(ctx, token); err != nil {
		t.Fatal(err)
	}
	partial := []access.Answer{
		{QuestionID: "q-pet", Answer: "Rex"},
		{QuestionID: "q-street", Answer: "Elm Street"},
		{QuestionID: "q-teacher", Answer: "wrong"},
	}
	if err := recovery.VerifyAnswers(ctx, token, partial); err != nil {
		t.Fatalf("two correct answers should satisfy a quorum of 2, got %v", err)
	}
}

func TestResetExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	_, recovery := newRecoveryFixture(t, func() time.Time { return now })
	completeRegistration(t, recovery, "mona@example.com")

	token, err := recovery.Request(ctx, "mona@example.com")
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour) // past the 1h reset TTL
	if err := recovery.ConfirmEmail(ctx, token); !errors.Is(err, access.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	_, recovery := newRecoveryFixture(t, func() time.Time { return now })
	completeRegistration(t, recovery, "nina@example.com")

	if _, err := recovery.Submit(ctx, registrationForm("pending@example.com")); err != nil {
		t.Fatal(err)
	}
	if _, err := recovery.Request(ctx, "nina@example.com"); err != nil {
		t.Fatal(err)
	}

	now = now.Add(48 * time.Hour)
	purged, err := recovery.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged rows, got %d", purged)
	}
}

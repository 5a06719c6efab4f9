package access_test

import (
	"errors"
	"testing"
	"time"

	"sitewright.io/internal/access"
)

func TestServiceTokenRoundTrip(t *testing.T) {
	tokens, err := access.NewServiceTokens("a-long-shared-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	signed, err := tokens.Issue("page-renderer", []string{"Access.Read", "access.read", " ", "pages.decide"})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := tokens.Verify(signed)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "page-renderer" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if len(claims.Scopes) != 2 {
		t.Fatalf("expected deduped lower-cased scopes, got %v", claims.Scopes)
	}
	if !claims.HasScope("ACCESS.READ") || !claims.HasScope("pages.decide") {
		t.Fatalf("scope lookup failed: %v", claims.Scopes)
	}
	if claims.HasScope("admin.write") {
		t.Fatal("unexpected scope granted")
	}
}

func TestServiceTokenRejectsWrongSecret(t *testing.T) {
	issuer, _ := access.NewServiceTokens("secret-one", time.Hour)
	verifier, _ := access.NewServiceTokens("secret-two", time.Hour)

	signed, err := issuer.Issue("feature-script", []string{"access.read"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(signed); !errors.Is(err, access.ErrInvalidServiceToken) {
		t.Fatalf("expected ErrInvalidServiceToken, got %v", err)
	}
}

func TestServiceTokenRejectsGarbage(t *testing.T) {
	tokens, _ := access.NewServiceTokens("a-long-shared-secret", time.Hour)
	for _, raw := range []string{"", "   ", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := tokens.Verify(raw); !errors.Is(err, access.ErrInvalidServiceToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidServiceToken, got %v", raw, err)
		}
	}
}

func TestServiceTokenRequiresSecret(t *testing.T) {
	if _, err := access.NewServiceTokens("  ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

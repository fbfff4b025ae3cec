package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "unit-test-secret-key"

func testIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(testSecret, "edugate-test", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	if now != nil {
		issuer.now = now
	}
	return issuer
}

func testUser() *UserAccount {
	return &UserAccount{
		ID:     "user-1",
		Email:  "a@x.com",
		Role:   RoleTeacher,
		Status: StatusActive,
	}
}

func TestIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("  ", "edugate", time.Minute, time.Minute); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewIssuer("secret", "edugate", 0, time.Minute); err == nil {
		t.Fatal("expected error for zero access TTL")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := testIssuer(t, nil)
	token, expiresAt, err := issuer.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expiry not in the future")
	}

	claims, err := issuer.Verify(token, TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != RoleTeacher {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	issuer := testIssuer(t, nil)
	refresh, _, err := issuer.IssueRefreshToken(testUser())
	if err != nil {
		t.Fatalf("IssueRefreshToken failed: %v", err)
	}
	if _, err := issuer.Verify(refresh, TokenTypeAccess); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
	if _, err := issuer.Verify(refresh, TokenTypeRefresh); err != nil {
		t.Fatalf("refresh token rejected as refresh: %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	issuer := testIssuer(t, nil)
	token, _, err := issuer.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := issuer.Verify(tampered, TokenTypeAccess); err == nil {
		t.Fatal("tampered token accepted")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	issuer := testIssuer(t, nil)
	token, _, err := issuer.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	other, err := NewIssuer("a-different-secret", "edugate-test", time.Minute, time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	if _, err := other.Verify(token, TokenTypeAccess); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	issuer := testIssuer(t, func() time.Time { return current })

	token, _, err := issuer.IssueAccessToken(testUser())
	if err != nil {
		t.Fatalf("IssueAccessToken failed: %v", err)
	}
	if _, err := issuer.Verify(token, TokenTypeAccess); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	current = base.Add(16 * time.Minute)
	if _, err := issuer.Verify(token, TokenTypeAccess); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestOpaqueTokenAndHash(t *testing.T) {
	a, err := GenerateOpaqueToken()
	if err != nil {
		t.Fatalf("GenerateOpaqueToken failed: %v", err)
	}
	b, err := GenerateOpaqueToken()
	if err != nil {
		t.Fatalf("GenerateOpaqueToken failed: %v", err)
	}
	if a == b {
		t.Fatal("expected unique opaque tokens")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected token length: %d", len(a))
	}
	if HashToken(a) == HashToken(b) {
		t.Fatal("distinct tokens hashed identically")
	}
	if HashToken(a) != HashToken(a) {
		t.Fatal("hash not deterministic")
	}
}

package tokens_test

import (
	"testing"
	"time"

	"github.com/ohmvision/camconnect/internal/tokens"
)

func TestTokenRoundTrip(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key", time.Hour)

	token, err := mgr.Generate("ops@example.com", tokens.RoleOperator)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.Subject != "ops@example.com" {
		t.Errorf("Expected subject ops@example.com, got %s", claims.Subject)
	}
	if claims.Role != tokens.RoleOperator {
		t.Errorf("Expected role operator, got %s", claims.Role)
	}
	if claims.ID == "" {
		t.Error("Expected a jti")
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1", time.Hour)
	mgr2 := tokens.NewManager("secret-2", time.Hour)

	token, _ := mgr1.Generate("u1", tokens.RoleAdmin)
	if _, err := mgr2.ValidateToken(token); err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredToken(t *testing.T) {
	mgr := tokens.NewManager("secret", -time.Minute)
	token, _ := mgr.Generate("u1", tokens.RoleViewer)
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Error("Expected validation error for expired token")
	}
}

func TestRoleCanMutate(t *testing.T) {
	if !tokens.RoleAdmin.CanMutate() || !tokens.RoleOperator.CanMutate() {
		t.Error("admin and operator must be allowed to mutate")
	}
	if tokens.RoleViewer.CanMutate() {
		t.Error("viewer must be read-only")
	}
}

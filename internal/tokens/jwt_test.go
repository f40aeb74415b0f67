package tokens_test

import (
	"testing"
	"time"

	"github.com/biokiosk/supervisor/internal/tokens"
)

func TestTokenGeneration(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	sessionID := "sess-123"
	platformID := "kiosk-lobby-01"

	token, err := mgr.GeneratePairingToken(sessionID, platformID, 5*time.Minute)
	if err != nil {
		t.Fatalf("Failed to generate pairing token: %v", err)
	}

	claims, err := mgr.ValidateToken(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}

	if claims.SessionID != sessionID {
		t.Errorf("Expected SessionID %s, got %s", sessionID, claims.SessionID)
	}
	if claims.PlatformID != platformID {
		t.Errorf("Expected PlatformID %s, got %s", platformID, claims.PlatformID)
	}
	if claims.TokenType != tokens.Pairing {
		t.Errorf("Expected TokenType %s, got %s", tokens.Pairing, claims.TokenType)
	}
}

func TestInvalidSignature(t *testing.T) {
	mgr1 := tokens.NewManager("secret-1")
	mgr2 := tokens.NewManager("secret-2")

	token, _ := mgr1.GeneratePairingToken("sess-1", "kiosk-1", 5*time.Minute)
	_, err := mgr2.ValidateToken(token)
	if err == nil {
		t.Error("Expected validation error for wrong signature")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	mgr := tokens.NewManager("test-secret-key")
	token, err := mgr.GeneratePairingToken("sess-2", "kiosk-2", -time.Second)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := mgr.ValidateToken(token); err == nil {
		t.Error("Expected validation error for expired token")
	}
}

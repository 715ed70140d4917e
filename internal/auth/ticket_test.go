package auth

import (
	"strings"
	"testing"
	"time"
)

func testConfig() *TicketConfig {
	return &TicketConfig{
		Secret: []byte("test-secret"),
		Issuer: "gridmatch",
		TTL:    time.Hour,
	}
}

func TestTicketRoundTrip(t *testing.T) {
	cfg := testConfig()
	tok, err := GenerateTicket(cfg, "ABC123", RoleHost, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateTicket(cfg, tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.RoomCode != "ABC123" || claims.Role != RoleHost || claims.Name != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTicketRejectsUnknownRole(t *testing.T) {
	if _, err := GenerateTicket(testConfig(), "ABC123", "spectator", "eve"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestTicketRejectsWrongSecret(t *testing.T) {
	cfg := testConfig()
	tok, err := GenerateTicket(cfg, "ABC123", RoleGuest, "bob")
	if err != nil {
		t.Fatal(err)
	}

	other := testConfig()
	other.Secret = []byte("different-secret")
	if _, err := ValidateTicket(other, tok); err == nil {
		t.Fatal("ticket accepted with wrong secret")
	}
}

func TestTicketRejectsWrongIssuer(t *testing.T) {
	cfg := testConfig()
	tok, err := GenerateTicket(cfg, "ABC123", RoleGuest, "bob")
	if err != nil {
		t.Fatal(err)
	}

	other := testConfig()
	other.Issuer = "someone-else"
	if _, err := ValidateTicket(other, tok); err == nil {
		t.Fatal("ticket accepted with wrong issuer")
	}
}

func TestTicketRejectsExpired(t *testing.T) {
	cfg := testConfig()
	cfg.TTL = -time.Minute
	tok, err := GenerateTicket(cfg, "ABC123", RoleGuest, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateTicket(cfg, tok); err == nil || !strings.Contains(err.Error(), "parse ticket") {
		t.Fatalf("expected parse failure for expired ticket, got %v", err)
	}
}

func TestTicketRejectsGarbage(t *testing.T) {
	if _, err := ValidateTicket(testConfig(), "not.a.ticket"); err == nil {
		t.Fatal("garbage ticket accepted")
	}
}

// Package auth issues and validates room tickets. A ticket binds a
// websocket connection to one room and one seat (host or guest); it is
// handed out by the REST join endpoints and presented on the ws upgrade.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles a ticket can carry. The relay enforces per-role rules (only the
// host may delete a room) based on the ticket, never on client claims.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// TicketClaims represents JWT claims for a room ticket.
type TicketClaims struct {
	RoomCode string `json:"room_code"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	jwt.RegisteredClaims
}

// TicketConfig holds ticket signing configuration.
type TicketConfig struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// GenerateTicket creates a signed ticket for the given room seat.
func GenerateTicket(cfg *TicketConfig, roomCode, role, name string) (string, error) {
	if role != RoleHost && role != RoleGuest {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := TicketClaims{
		RoomCode: roomCode,
		Role:     role,
		Name:     name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateTicket parses and validates a room ticket.
func ValidateTicket(cfg *TicketConfig, tokenString string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("parse ticket: %w", err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid ticket claims")
	}

	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if claims.Role != RoleHost && claims.Role != RoleGuest {
		return nil, fmt.Errorf("invalid role %q", claims.Role)
	}
	if claims.RoomCode == "" {
		return nil, fmt.Errorf("ticket missing room code")
	}

	return claims, nil
}

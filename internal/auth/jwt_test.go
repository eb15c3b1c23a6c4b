package auth

import (
	"testing"
	"time"
)

func TestSignAndParse(t *testing.T) {
	tok, err := SignJWT(42, "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	uid, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if uid != 42 {
		t.Fatalf("expected user 42, got %d", uid)
	}
}

func TestParse_WrongSecret(t *testing.T) {
	tok, err := SignJWT(42, "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(tok, "other"); err == nil {
		t.Fatalf("expected invalid token")
	}
}

func TestParse_Expired(t *testing.T) {
	tok, err := SignJWT(42, "secret", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseJWT(tok, "secret"); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}

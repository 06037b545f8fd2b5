package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticValidator struct {
	claims *Claims
	err    error
}

func (s staticValidator) ValidateToken(context.Context, string) (*Claims, error) {
	return s.claims, s.err
}

func (staticValidator) Name() string { return "static" }

func TestCompositeTokenValidator(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	empty := NewCompositeTokenValidator(nil)
	if empty.Len() != 0 {
		t.Errorf("nil validator was chained")
	}
	if _, err := empty.ValidateToken(ctx, "t"); !errors.Is(err, ErrNoValidatorMatched) {
		t.Errorf("error = %v, want ErrNoValidatorMatched", err)
	}

	c := NewCompositeTokenValidator(staticValidator{err: boom})
	if _, err := c.ValidateToken(ctx, "t"); !errors.Is(err, boom) {
		t.Errorf("error = %v, want last validator error", err)
	}

	m, err := NewJWTManager(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c.AddValidator(m)
	token, _ := m.GenerateToken("ci", RoleViewer)
	claims, err := c.ValidateToken(ctx, token)
	if err != nil || claims.Subject != "ci" {
		t.Errorf("claims=%+v err=%v", claims, err)
	}
	if c.Name() != "composite(static,jwt-hs256)" {
		t.Errorf("Name = %s", c.Name())
	}
}

func TestCompositeTokenValidator_Rotation(t *testing.T) {
	ctx := context.Background()
	current, err := NewJWTManager(testSecret+"-current", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	previous, err := NewJWTManager(testSecret, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCompositeTokenValidator(current, previous)

	issued := time.Now()
	previous.now = func() time.Time { return issued }
	old, err := previous.GenerateToken("ops", RoleEditor)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := c.ValidateToken(ctx, old)
	if err != nil || claims.Role != RoleEditor {
		t.Fatalf("token signed with previous secret: claims=%+v err=%v", claims, err)
	}

	previous.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := c.ValidateToken(ctx, old); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expired token error = %v, want ErrExpiredToken", err)
	}

	stranger, err := NewJWTManager(testSecret+"-stranger", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := stranger.GenerateToken("ops", RoleAdmin)
	if _, err := c.ValidateToken(ctx, forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign token error = %v, want ErrInvalidToken", err)
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFrom(context.Background()); ok {
		t.Error("empty context should carry no claims")
	}
	ctx := WithClaims(context.Background(), &Claims{Subject: "a", Role: RoleAdmin})
	claims, ok := ClaimsFrom(ctx)
	if !ok || claims.Subject != "a" {
		t.Errorf("claims=%+v ok=%v", claims, ok)
	}
}

package auth

import (
	"context"
	"errors"
	"strings"
)

// TokenValidator checks a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*Claims, error)
	Name() string
}

// ErrNoValidatorMatched is returned by a chain with nothing to try.
var ErrNoValidatorMatched = errors.New("no validator could validate the token")

// CompositeTokenValidator tries validators in order and accepts the first
// success. During a secret rotation it holds the current manager followed
// by the previous one.
type CompositeTokenValidator struct {
	validators []TokenValidator
}

// NewCompositeTokenValidator builds a chain. Nil entries are skipped.
func NewCompositeTokenValidator(validators ...TokenValidator) *CompositeTokenValidator {
	c := &CompositeTokenValidator{}
	for _, v := range validators {
		c.AddValidator(v)
	}
	return c
}

// ValidateToken returns the claims of the first validator that accepts
// token. An expiry reported by any validator is returned as is; otherwise
// the last failure is.
func (c *CompositeTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	if len(c.validators) == 0 {
		return nil, ErrNoValidatorMatched
	}

	var lastErr error
	for _, v := range c.validators {
		claims, err := v.ValidateToken(ctx, token)
		if err == nil {
			return claims, nil
		}
		if errors.Is(err, ErrExpiredToken) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Name lists the chained validators, e.g. "composite(jwt-hs256,jwt-hs256)".
func (c *CompositeTokenValidator) Name() string {
	names := make([]string, len(c.validators))
	for i, v := range c.validators {
		names[i] = v.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// AddValidator appends v to the chain.
func (c *CompositeTokenValidator) AddValidator(v TokenValidator) {
	if v == nil {
		return
	}
	c.validators = append(c.validators, v)
}

// Len returns the number of chained validators.
func (c *CompositeTokenValidator) Len() int {
	return len(c.validators)
}

// Package auth holds the credential primitives: bcrypt password hashing,
// signed OAuth state tokens, the third-party identity providers and the
// session middleware.
//
// WHY BCRYPT?
// bcrypt is designed to be slow. That slowness makes brute-force attacks
// expensive, and the salt is embedded in the output so no separate column
// is needed:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// DefaultCost is the bcrypt work factor used when none is configured.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on your production hardware.
// Too low → easy to crack. Too high → login is sluggish and your server
// spends all its time on bcrypt during traffic spikes.
const DefaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer inputs are silently
// truncated by the algorithm, so we reject them instead.
const maxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for inputs over 72 bytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService provides bcrypt hashing and verification.
//
// BOUNDED CONCURRENCY:
// Every bcrypt call burns a full core for the duration of the hash. A burst
// of login attempts would otherwise starve every other request, so calls
// take a slot from a weighted semaphore sized to GOMAXPROCS. Waiting for a
// slot honours the request context: a client that gives up stops queueing.
type PasswordService struct {
	cost  int
	slots *semaphore.Weighted
	dummy []byte
}

// NewPasswordService creates a PasswordService with the given cost.
// Tests pass bcrypt.MinCost (4) to keep hashing fast.
func NewPasswordService(cost int) (*PasswordService, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	// The dummy hash is compared against when a login names an unknown
	// email, so it must cost the same as a real one.
	filler := make([]byte, 16)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("auth: generating dummy password: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(filler)), cost)
	if err != nil {
		return nil, fmt.Errorf("auth: generating dummy hash: %w", err)
	}

	return &PasswordService{
		cost:  cost,
		slots: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		dummy: dummy,
	}, nil
}

// Hash hashes the given plaintext password with bcrypt.
//
// The output is self-contained (algorithm, cost and salt) and is stored as
// is. Returns ErrPasswordTooLong for inputs over 72 bytes, or the context
// error if no slot frees up in time.
func (p *PasswordService) Hash(ctx context.Context, plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("auth: waiting for hash slot: %w", err)
	}
	defer p.slots.Release(1)

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches the stored hash.
//
// A malformed hash, a mismatch and a cancelled context all return false;
// callers that need to tell them apart check ctx.Err().
// bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(ctx context.Context, hash, plaintext string) bool {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return false
	}
	defer p.slots.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// CompareDummy runs one bcrypt comparison against a throwaway hash.
//
// Login calls it when the email is unknown or the account has no password,
// so those failures take as long as a wrong password and response timing
// does not reveal which emails are registered.
func (p *PasswordService) CompareDummy(ctx context.Context, plaintext string) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.slots.Release(1)

	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
}

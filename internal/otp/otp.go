package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("otp not found, request a new one")
	ErrExpired  = errors.New("otp expired")
	ErrMismatch = errors.New("invalid otp")
)

// Store issues and verifies one-time passcodes for administrative sign-up.
// Codes are time-bounded; expiry is checked on read, never by a sweeper.
type Store interface {
	Issue(ctx context.Context, mobile string) (string, error)
	Verify(ctx context.Context, mobile, code string) error
	// Verified reports whether the mobile passed verification and has not
	// expired since.
	Verified(ctx context.Context, mobile string) (bool, error)
}

type entry struct {
	code     string
	expires  time.Time
	verified bool
}

// MemoryStore is a process-wide keyed store with explicit expiry
// timestamps. State is lost on restart, which is acceptable for codes
// that live minutes.
type MemoryStore struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry
	now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, m: make(map[string]entry), now: time.Now}
}

func (s *MemoryStore) Issue(ctx context.Context, mobile string) (string, error) {
	code, err := sixDigits()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[mobile] = entry{code: code, expires: s.now().Add(s.ttl)}
	return code, nil
}

func (s *MemoryStore) Verify(ctx context.Context, mobile, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[mobile]
	if !ok {
		return ErrNotFound
	}
	if s.now().After(e.expires) {
		delete(s.m, mobile)
		return ErrExpired
	}
	if e.code != code {
		return ErrMismatch
	}
	e.verified = true
	s.m[mobile] = e
	return nil
}

func (s *MemoryStore) Verified(ctx context.Context, mobile string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[mobile]
	if !ok {
		return false, nil
	}
	if s.now().After(e.expires) {
		delete(s.m, mobile)
		return false, nil
	}
	return e.verified, nil
}

func sixDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

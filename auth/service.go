// Package auth implements the wallet challenge/response flow: a caller
// requests a nonce for an address, signs the canonical message with the
// wallet key, and exchanges the signature for an opaque bearer token.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"marketplace.aleph.sh/security"
)

const (
	// NonceTTL is how long a challenge nonce stays redeemable.
	NonceTTL = 300 * time.Second
	// SessionTTL is the bearer token lifetime.
	SessionTTL = 86400 * time.Second
)

var (
	ErrInvalidAddress = errors.New("invalid ethereum address")
	// ErrUnauthorized covers missing, mismatched and expired nonces as
	// well as bad signatures. Callers must not learn which one failed.
	ErrUnauthorized = errors.New("invalid or expired")
)

type nonceEntry struct {
	nonce     string
	createdAt time.Time
}

type sessionEntry struct {
	address   string
	expiresAt time.Time
}

// Service issues nonces and sessions. Both maps are guarded by a single
// mutex; expired entries are evicted opportunistically on access.
type Service struct {
	mu       sync.Mutex
	nonces   map[string]nonceEntry
	sessions map[string]sessionEntry
	now      func() time.Time
}

func NewService() *Service {
	return &Service{
		nonces:   make(map[string]nonceEntry),
		sessions: make(map[string]sessionEntry),
		now:      time.Now,
	}
}

// ChallengeMessage is the canonical text the wallet signs.
func ChallengeMessage(nonce, address string) string {
	return fmt.Sprintf("Sign this message to authenticate with Aleph Marketplace.\n\nNonce: %s\nAddress: %s", nonce, address)
}

// Challenge stores a fresh nonce for address and returns the nonce with
// the message to sign. A prior unconsumed nonce for the same address is
// replaced.
func (s *Service) Challenge(address string) (nonce, message string, err error) {
	addr, err := security.ValidateEthAddress(address)
	if err != nil {
		return "", "", ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	nonce = security.GenerateNonce()
	s.nonces[addr] = nonceEntry{nonce: nonce, createdAt: s.now()}
	return nonce, ChallengeMessage(nonce, addr), nil
}

// Verify consumes the stored nonce for address, checks the signature
// against the canonical message and returns a session token with its
// expiry on success.
func (s *Service) Verify(address, nonce, signature string) (token string, expiresAt time.Time, err error) {
	addr, err := security.ValidateEthAddress(address)
	if err != nil {
		return "", time.Time{}, ErrInvalidAddress
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	entry, ok := s.nonces[addr]
	if !ok || entry.nonce != nonce || s.now().Sub(entry.createdAt) > NonceTTL {
		return "", time.Time{}, ErrUnauthorized
	}

	recovered, err := RecoverPersonalSign(ChallengeMessage(entry.nonce, addr), signature)
	if err != nil {
		logrus.WithError(err).WithField("address", addr).Debug("signature recovery failed")
		return "", time.Time{}, ErrUnauthorized
	}
	if recovered != addr {
		return "", time.Time{}, ErrUnauthorized
	}

	// consumed: replay of the same nonce must fail
	delete(s.nonces, addr)

	token = security.GenerateToken()
	expiresAt = s.now().Add(SessionTTL)
	s.sessions[token] = sessionEntry{address: addr, expiresAt: expiresAt}
	logrus.WithField("address", addr).Info("wallet authenticated")
	return token, expiresAt, nil
}

// Session resolves a bearer token to its wallet address.
func (s *Service) Session(token string) (address string, expiresAt time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()

	entry, ok := s.sessions[token]
	if !ok || !s.now().Before(entry.expiresAt) {
		return "", time.Time{}, ErrUnauthorized
	}
	return entry.address, entry.expiresAt, nil
}

// Logout drops the session if present. Removing an unknown token is
// not an error.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *Service) evictLocked() {
	now := s.now()
	for addr, entry := range s.nonces {
		if now.Sub(entry.createdAt) > NonceTTL {
			delete(s.nonces, addr)
		}
	}
	for token, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, token)
		}
	}
}

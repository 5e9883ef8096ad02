// Package keymanager generates and rotates the RSA signing key used by
// pkg/token to issue RS256 capability tokens, and exports the verification
// key set as a JWKS document for external validators.
package keymanager

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeySize is the RSA modulus size in bits. The config validator requires
// at least 2048.
const KeySize = 2048

// keyEntry is one generation of signing key, kept around for the overlap
// window after rotation so in-flight verifications never fail.
type keyEntry struct {
	kid       string
	private   *rsa.PrivateKey
	createdAt time.Time
	evictAt   time.Time // zero while this is the current key
}

// Manager holds the current signing key and a bounded history of previous
// public keys for the rotation overlap period.
type Manager struct {
	mu              sync.RWMutex
	keys            map[string]*keyEntry // kid -> entry, includes current and retained previous keys
	currentKID      string
	keySize         int
	rotationInterval time.Duration
	overlapPeriod    time.Duration
}

// New generates the first signing key and returns a ready Manager.
func New(keySize int, rotationInterval, overlapPeriod time.Duration) (*Manager, error) {
	if keySize < KeySize {
		keySize = KeySize
	}
	m := &Manager{
		keys:             make(map[string]*keyEntry),
		keySize:          keySize,
		rotationInterval: rotationInterval,
		overlapPeriod:    overlapPeriod,
	}
	if err := m.rotate(); err != nil {
		return nil, fmt.Errorf("generating initial signing key: %w", err)
	}
	return m, nil
}

// rotate generates a new key pair, retains the previous current key for the
// overlap period, and promotes the new key to current. Caller must not hold m.mu.
func (m *Manager) rotate() error {
	priv, err := rsa.GenerateKey(rand.Reader, m.keySize)
	if err != nil {
		return fmt.Errorf("generating RSA key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if prev, ok := m.keys[m.currentKID]; ok {
		prev.evictAt = now.Add(m.overlapPeriod)
	}

	kid := uuid.New().String()
	m.keys[kid] = &keyEntry{kid: kid, private: priv, createdAt: now}
	m.currentKID = kid

	slog.Info("key manager rotated signing key", "kid", kid)
	return nil
}

// Rotate is the exported, lockable entry point used by the periodic
// cron-driven rotation scheduler.
func (m *Manager) Rotate() error {
	return m.rotate()
}

// Current returns the current signing key and its key id.
func (m *Manager) Current() (kid string, key *rsa.PrivateKey) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.keys[m.currentKID]
	return e.kid, e.private
}

// PublicKey looks up a verification key by kid against every key currently
// published, current or retained. Returns false if the kid is unknown or
// has been evicted.
func (m *Manager) PublicKey(kid string) (*rsa.PublicKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.keys[kid]
	if !ok {
		return nil, false
	}
	return &e.private.PublicKey, true
}

// AllPublicKeys returns every currently published verification key,
// keyed by kid, for validators that do not know the kid up front.
func (m *Manager) AllPublicKeys() map[string]*rsa.PublicKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(m.keys))
	for kid, e := range m.keys {
		out[kid] = &e.private.PublicKey
	}
	return out
}

// Sweep evicts previous keys whose overlap period has elapsed. Must not
// evict the current key even if its evictAt happens to be set (it is zero
// for the current key by construction).
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for kid, e := range m.keys {
		if kid == m.currentKID {
			continue
		}
		if !e.evictAt.IsZero() && now.After(e.evictAt) {
			delete(m.keys, kid)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("key manager evicted expired verification keys", "count", evicted)
	}
	return evicted
}

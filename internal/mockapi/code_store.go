package mockapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/animalplace/pkg/sessionvalidator"
)

var (
	// ErrCodeNotFound indicates the code was never issued or was already consumed.
	ErrCodeNotFound = errors.New("code not found")
	// ErrCodeExpired indicates the code expired before it was consumed.
	ErrCodeExpired = errors.New("code expired")
)

const verificationCodeDigits = 6

var verificationCodeRandomSource io.Reader = rand.Reader

type issuedCode struct {
	code      string
	expiresAt time.Time
}

// CodeStore keeps one pending verification code per email address.
type CodeStore struct {
	mutex   sync.Mutex
	entries map[string]issuedCode
	ttl     time.Duration
	clock   sessionvalidator.Clock
}

// NewCodeStore constructs an in-memory CodeStore with the provided TTL.
func NewCodeStore(ttl time.Duration, clock sessionvalidator.Clock) *CodeStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &CodeStore{
		entries: make(map[string]issuedCode),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue replaces any pending code for email with a fresh one.
func (store *CodeStore) Issue(email string) (string, error) {
	code, err := randomDigits(verificationCodeDigits)
	if err != nil {
		return "", err
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	store.entries[normalizeEmail(email)] = issuedCode{code: code, expiresAt: store.clock.Now().Add(store.ttl)}
	return code, nil
}

// Consume validates and invalidates the pending code for email.
func (store *CodeStore) Consume(email string, code string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	key := normalizeEmail(email)
	entry, ok := store.entries[key]
	if !ok || entry.code != strings.TrimSpace(code) {
		store.purgeExpiredLocked()
		return ErrCodeNotFound
	}
	delete(store.entries, key)
	if store.clock.Now().After(entry.expiresAt) {
		store.purgeExpiredLocked()
		return ErrCodeExpired
	}
	store.purgeExpiredLocked()
	return nil
}

func (store *CodeStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.clock.Now()
	for key, entry := range store.entries {
		if now.After(entry.expiresAt) {
			delete(store.entries, key)
		}
	}
}

func randomDigits(count int) (string, error) {
	var builder strings.Builder
	for index := 0; index < count; index++ {
		digit, err := rand.Int(verificationCodeRandomSource, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("code_store.random: %w", err)
		}
		builder.WriteByte(byte('0' + digit.Int64()))
	}
	return builder.String(), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

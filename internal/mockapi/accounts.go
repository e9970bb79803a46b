package mockapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAccountNotFound is returned when no account matches the lookup.
	ErrAccountNotFound = errors.New("account_not_found")
	// ErrAccountExists is returned when registering an email that is already taken.
	ErrAccountExists = errors.New("account_exists")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	// ErrAccountUnverified is returned when a password login targets an account that has not confirmed its email.
	ErrAccountUnverified = errors.New("account_unverified")
)

const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// DashboardRoles may use the resource and upload endpoints.
var DashboardRoles = []string{RoleAdmin, RoleStaff}

// Account is a mock backend user.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Verified bool   `json:"-"`

	passwordHash []byte
}

// Accounts is an in-memory account directory with bcrypt-hashed passwords.
type Accounts struct {
	mutex   sync.RWMutex
	byID    map[string]*Account
	byEmail map[string]string
	cost    int
}

// NewAccounts constructs an empty directory.
func NewAccounts() *Accounts {
	return &Accounts{
		byID:    make(map[string]*Account),
		byEmail: make(map[string]string),
		cost:    bcrypt.MinCost,
	}
}

// Register creates an account. Seeded accounts are created verified.
func (accounts *Accounts) Register(name string, email string, password string, role string, verified bool) (Account, error) {
	key := normalizeEmail(email)
	if key == "" || password == "" {
		return Account{}, fmt.Errorf("accounts.register: %w", ErrInvalidCredentials)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), accounts.cost)
	if err != nil {
		return Account{}, fmt.Errorf("accounts.register.hash: %w", err)
	}
	if strings.TrimSpace(role) == "" {
		role = RoleAdmin
	}

	accounts.mutex.Lock()
	defer accounts.mutex.Unlock()
	if _, exists := accounts.byEmail[key]; exists {
		return Account{}, fmt.Errorf("accounts.register: %w", ErrAccountExists)
	}
	account := &Account{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        key,
		Role:         role,
		Verified:     verified,
		passwordHash: hash,
	}
	accounts.byID[account.ID] = account
	accounts.byEmail[key] = account.ID
	return *account, nil
}

// Authenticate checks the password for email. An unverified account is returned
// alongside ErrAccountUnverified so the caller can resend its code.
func (accounts *Accounts) Authenticate(email string, password string) (Account, error) {
	account, err := accounts.lookupEmail(email)
	if err != nil {
		return Account{}, fmt.Errorf("accounts.authenticate: %w", ErrInvalidCredentials)
	}
	if compareErr := bcrypt.CompareHashAndPassword(account.passwordHash, []byte(password)); compareErr != nil {
		return Account{}, fmt.Errorf("accounts.authenticate: %w", ErrInvalidCredentials)
	}
	if !account.Verified {
		return account, fmt.Errorf("accounts.authenticate: %w", ErrAccountUnverified)
	}
	return account, nil
}

// MarkVerified flags the account behind email as verified.
func (accounts *Accounts) MarkVerified(email string) (Account, error) {
	accounts.mutex.Lock()
	defer accounts.mutex.Unlock()
	accountID, ok := accounts.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, fmt.Errorf("accounts.verify: %w", ErrAccountNotFound)
	}
	account := accounts.byID[accountID]
	account.Verified = true
	return *account, nil
}

// ByID returns the account with the given identifier.
func (accounts *Accounts) ByID(accountID string) (Account, error) {
	accounts.mutex.RLock()
	defer accounts.mutex.RUnlock()
	account, ok := accounts.byID[accountID]
	if !ok {
		return Account{}, fmt.Errorf("accounts.by_id: %w", ErrAccountNotFound)
	}
	return *account, nil
}

// ByEmail returns the account registered under email.
func (accounts *Accounts) ByEmail(email string) (Account, error) {
	account, err := accounts.lookupEmail(email)
	if err != nil {
		return Account{}, fmt.Errorf("accounts.by_email: %w", err)
	}
	return account, nil
}

func (accounts *Accounts) lookupEmail(email string) (Account, error) {
	accounts.mutex.RLock()
	defer accounts.mutex.RUnlock()
	accountID, ok := accounts.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *accounts.byID[accountID], nil
}

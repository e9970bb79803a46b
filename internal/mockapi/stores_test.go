package mockapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newControllableClock() *controllableClock {
	return &controllableClock{current: time.Unix(1700000000, 0).UTC()}
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestRefreshTokenStoreLifecycle(t *testing.T) {
	clock := newControllableClock()
	store := NewRefreshTokenStore(clock)
	ctx := context.Background()

	tokenID, opaque, err := store.Issue(ctx, "user-1", clock.Now().Add(time.Hour).Unix(), "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	userID, validatedID, _, err := store.Validate(ctx, opaque)
	if err != nil || userID != "user-1" || validatedID != tokenID {
		t.Fatalf("unexpected validation result: %q %q %v", userID, validatedID, err)
	}
	if err := store.Revoke(ctx, tokenID); err != nil {
		t.Fatalf("revoke error: %v", err)
	}
	if err := store.Revoke(ctx, tokenID); !errors.Is(err, ErrRefreshTokenAlreadyRevoked) {
		t.Fatalf("expected already revoked, got %v", err)
	}
	if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
		t.Fatalf("expected revoked, got %v", err)
	}
}

func TestRefreshTokenStoreErrors(t *testing.T) {
	clock := newControllableClock()
	store := NewRefreshTokenStore(clock)
	ctx := context.Background()

	if _, _, _, err := store.Validate(ctx, ""); !errors.Is(err, ErrRefreshTokenEmptyOpaque) {
		t.Fatalf("expected empty token error, got %v", err)
	}
	if _, _, _, err := store.Validate(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Revoke(ctx, "missing"); !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected not found on revoke, got %v", err)
	}

	_, opaque, err := store.Issue(ctx, "user-1", clock.Now().Add(time.Minute).Unix(), "")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestRefreshTokenStoreRandomFailure(t *testing.T) {
	original := refreshTokenRandomSource
	refreshTokenRandomSource = failingReader{}
	t.Cleanup(func() { refreshTokenRandomSource = original })

	store := NewRefreshTokenStore(nil)
	if _, _, err := store.Issue(context.Background(), "user-1", time.Now().Add(time.Hour).Unix(), ""); err == nil {
		t.Fatalf("expected random source failure")
	}
}

func TestRefreshTokenStoreRevokeUser(t *testing.T) {
	clock := newControllableClock()
	store := NewRefreshTokenStore(clock)
	ctx := context.Background()
	expires := clock.Now().Add(time.Hour).Unix()

	_, first, _ := store.Issue(ctx, "user-1", expires, "")
	_, second, _ := store.Issue(ctx, "user-1", expires, "")
	_, other, _ := store.Issue(ctx, "user-2", expires, "")

	if revoked := store.RevokeUser(ctx, "user-1"); revoked != 2 {
		t.Fatalf("expected 2 revoked, got %d", revoked)
	}
	for _, opaque := range []string{first, second} {
		if _, _, _, err := store.Validate(ctx, opaque); !errors.Is(err, ErrRefreshTokenRevoked) {
			t.Fatalf("expected revoked, got %v", err)
		}
	}
	if _, _, _, err := store.Validate(ctx, other); err != nil {
		t.Fatalf("unrelated token should remain valid: %v", err)
	}
}

func TestCodeStoreIssueAndConsume(t *testing.T) {
	clock := newControllableClock()
	store := NewCodeStore(time.Minute, clock)

	code, err := store.Issue("Vet@AnimalPlace.example")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	if len(code) != verificationCodeDigits || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("unexpected code format %q", code)
	}
	if err := store.Consume("vet@animalplace.example", "000000x"); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected wrong code rejection, got %v", err)
	}
	if err := store.Consume(" vet@animalplace.example ", code); err != nil {
		t.Fatalf("consume error: %v", err)
	}
	if err := store.Consume("vet@animalplace.example", code); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected code to be single use, got %v", err)
	}
}

func TestCodeStoreExpiry(t *testing.T) {
	clock := newControllableClock()
	store := NewCodeStore(time.Minute, clock)

	code, err := store.Issue("vet@animalplace.example")
	if err != nil {
		t.Fatalf("issue error: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if err := store.Consume("vet@animalplace.example", code); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected expired code, got %v", err)
	}
}

func TestAccountsRegisterAndAuthenticate(t *testing.T) {
	accounts := NewAccounts()

	account, err := accounts.Register("Dr. Vet", "Vet@AnimalPlace.example", "s3cret", "", true)
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if account.Email != "vet@animalplace.example" || account.Role != "admin" || account.ID == "" {
		t.Fatalf("unexpected account: %#v", account)
	}
	if _, err := accounts.Register("Other", "vet@animalplace.example", "x", "", true); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	if _, err := accounts.Authenticate("vet@animalplace.example", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := accounts.Authenticate("nobody@animalplace.example", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	authenticated, err := accounts.Authenticate("VET@animalplace.example", "s3cret")
	if err != nil || authenticated.ID != account.ID {
		t.Fatalf("unexpected authentication result: %#v %v", authenticated, err)
	}
	if byID, err := accounts.ByID(account.ID); err != nil || byID.Email != account.Email {
		t.Fatalf("unexpected lookup: %#v %v", byID, err)
	}
}

func TestAccountsUnverifiedLogin(t *testing.T) {
	accounts := NewAccounts()
	if _, err := accounts.Register("New", "new@animalplace.example", "pw", "", false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	account, err := accounts.Authenticate("new@animalplace.example", "pw")
	if !errors.Is(err, ErrAccountUnverified) || account.Email != "new@animalplace.example" {
		t.Fatalf("expected unverified account, got %#v %v", account, err)
	}
	if _, err := accounts.MarkVerified("new@animalplace.example"); err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if _, err := accounts.Authenticate("new@animalplace.example", "pw"); err != nil {
		t.Fatalf("expected verified login, got %v", err)
	}
}

func TestCollectionCRUD(t *testing.T) {
	collection := NewCollection(CollectionSpec{Name: "plans", Label: "Plan", UniqueField: "name"}, newControllableClock())

	created, err := collection.Create(Document{"id": "client-chosen", "name": "Gold", "status": "active"})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	planID, _ := created["id"].(string)
	if planID == "" || planID == "client-chosen" {
		t.Fatalf("expected server-assigned id, got %q", planID)
	}
	if _, err := collection.Create(Document{"name": "gold"}); !errors.Is(err, ErrDuplicateDocument) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := collection.Create(Document{"description": "no name"}); !errors.Is(err, ErrMissingUniqueField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	if _, err := collection.Create(Document{"name": "Silver", "status": "draft"}); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if active := collection.List(ListQuery{Status: "active"}); len(active) != 1 {
		t.Fatalf("expected 1 active plan, got %d", len(active))
	}
	if searched := collection.List(ListQuery{Search: "silv"}); len(searched) != 1 || searched[0]["name"] != "Silver" {
		t.Fatalf("unexpected search result: %#v", searched)
	}
	if paged := collection.List(ListQuery{Page: 2, Limit: 1}); len(paged) != 1 || paged[0]["name"] != "Silver" {
		t.Fatalf("unexpected page: %#v", paged)
	}
	if beyond := collection.List(ListQuery{Page: 5, Limit: 1}); len(beyond) != 0 {
		t.Fatalf("expected empty page, got %#v", beyond)
	}

	if _, err := collection.Update(planID, Document{"name": "Silver"}); !errors.Is(err, ErrDuplicateDocument) {
		t.Fatalf("expected duplicate on rename, got %v", err)
	}
	updated, err := collection.Update(planID, Document{"name": "Gold", "priceCents": float64(1999)})
	if err != nil || updated["priceCents"] != float64(1999) {
		t.Fatalf("unexpected update: %#v %v", updated, err)
	}
	if err := collection.Delete(planID); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	if _, err := collection.Get(planID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := collection.Delete(planID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCollectionAppendAttachments(t *testing.T) {
	collection := NewCollection(CollectionSpec{Name: "reports", UniqueField: "name"}, nil)
	report, err := collection.Create(Document{"name": "Monthly"})
	if err != nil {
		t.Fatalf("create error: %v", err)
	}
	reportID := report["id"].(string)
	if _, err := collection.AppendAttachments(reportID, []string{"a.pdf"}); err != nil {
		t.Fatalf("append error: %v", err)
	}
	updated, err := collection.AppendAttachments(reportID, []string{"b.pdf"})
	if err != nil {
		t.Fatalf("append error: %v", err)
	}
	attachments, _ := updated["attachments"].([]any)
	if len(attachments) != 2 || attachments[0] != "a.pdf" || attachments[1] != "b.pdf" {
		t.Fatalf("unexpected attachments: %#v", updated["attachments"])
	}
}

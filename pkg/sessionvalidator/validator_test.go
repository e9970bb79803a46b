package sessionvalidator

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

type tokenSpec struct {
	signingKey []byte
	method     jwt.SigningMethod
	issuer     string
	subject    string
	role       string
	issuedAt   time.Time
	ttl        time.Duration
}

func defaultTokenSpec() tokenSpec {
	return tokenSpec{
		signingKey: []byte("secret-key"),
		method:     jwt.SigningMethodHS256,
		issuer:     "animalplace",
		subject:    "user-123",
		role:       "staff",
		issuedAt:   testNow,
		ttl:        time.Minute,
	}
}

func mintToken(t *testing.T, spec tokenSpec) string {
	t.Helper()
	token := jwt.NewWithClaims(spec.method, Claims{
		Email: "staff@animalplace.example",
		Name:  "Front Desk",
		Role:  spec.role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    spec.issuer,
			Subject:   spec.subject,
			IssuedAt:  jwt.NewNumericDate(spec.issuedAt),
			ExpiresAt: jwt.NewNumericDate(spec.issuedAt.Add(spec.ttl)),
		},
	})
	signed, err := token.SignedString(spec.signingKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestValidator(t *testing.T, leeway time.Duration) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "animalplace",
		Leeway:     leeway,
		Clock:      fixedClock{current: testNow},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: "animalplace"}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("secret"), Issuer: "  "}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("secret"), Issuer: "animalplace"}); err != nil {
		t.Fatalf("expected system clock default, got %v", err)
	}
}

func TestParseReturnsClaims(t *testing.T) {
	validator := newTestValidator(t, 0)

	claims, err := validator.Parse(mintToken(t, defaultTokenSpec()))
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if claims.UserID() != "user-123" || claims.Email != "staff@animalplace.example" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if !claims.HasRole("admin", "STAFF") || claims.HasRole("customer") {
		t.Fatalf("unexpected role matching for %q", claims.Role)
	}
	if !claims.Expiry().Equal(testNow.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.Expiry())
	}

	var nilClaims *Claims
	if nilClaims.UserID() != "" || nilClaims.HasRole("admin") || !nilClaims.Expiry().IsZero() {
		t.Fatalf("nil claims must be empty")
	}
}

func TestParseRejectsInvalidTokens(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(spec *tokenSpec)
		raw       string
		expectErr error
	}{
		{name: "empty token", raw: " ", expectErr: ErrMissingToken},
		{name: "garbage", raw: "not.a.jwt", expectErr: ErrInvalidToken},
		{name: "bad signature", mutate: func(spec *tokenSpec) { spec.signingKey = []byte("other-key") }, expectErr: ErrInvalidToken},
		{name: "unexpected algorithm", mutate: func(spec *tokenSpec) { spec.method = jwt.SigningMethodHS512 }, expectErr: ErrInvalidToken},
		{name: "wrong issuer", mutate: func(spec *tokenSpec) { spec.issuer = "someone-else" }, expectErr: ErrInvalidIssuer},
		{name: "expired", mutate: func(spec *tokenSpec) { spec.issuedAt = testNow.Add(-2 * time.Minute) }, expectErr: ErrTokenExpired},
		{name: "issued in the future", mutate: func(spec *tokenSpec) { spec.issuedAt = testNow.Add(time.Minute) }, expectErr: ErrTokenNotYetValid},
		{name: "empty subject", mutate: func(spec *tokenSpec) { spec.subject = "" }, expectErr: ErrInvalidToken},
	}

	validator := newTestValidator(t, 0)
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			tokenValue := testCase.raw
			if testCase.mutate != nil {
				spec := defaultTokenSpec()
				testCase.mutate(&spec)
				tokenValue = mintToken(t, spec)
			}
			_, err := validator.Parse(tokenValue)
			if !errors.Is(err, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, err)
			}
		})
	}
}

func TestParseHonoursLeeway(t *testing.T) {
	spec := defaultTokenSpec()
	spec.issuedAt = testNow.Add(-time.Minute - 10*time.Second)

	if _, err := newTestValidator(t, 0).Parse(mintToken(t, spec)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry without leeway, got %v", err)
	}
	if _, err := newTestValidator(t, 30*time.Second).Parse(mintToken(t, spec)); err != nil {
		t.Fatalf("expected token within leeway to pass, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		header    string
		expected  string
		expectErr error
	}{
		{name: "canonical", header: "Bearer abc.def", expected: "abc.def"},
		{name: "lowercase scheme", header: "bearer  abc.def ", expected: "abc.def"},
		{name: "missing", header: "", expectErr: ErrMissingToken},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg==", expectErr: ErrMalformedHeader},
		{name: "scheme only", header: "Bearer", expectErr: ErrMalformedHeader},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
			if testCase.header != "" {
				request.Header.Set("Authorization", testCase.header)
			}
			token, err := BearerToken(request)
			if testCase.expectErr != nil {
				if !errors.Is(err, testCase.expectErr) {
					t.Fatalf("expected %v, got %v", testCase.expectErr, err)
				}
				return
			}
			if err != nil || token != testCase.expected {
				t.Fatalf("expected %q, got %q (%v)", testCase.expected, token, err)
			}
		})
	}

	if _, err := BearerToken(nil); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected nil request to report a missing token, got %v", err)
	}
}

type middlewareResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
}

func serve(t *testing.T, router *gin.Engine, token string) (int, middlewareResponse) {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	var decoded middlewareResponse
	if recorder.Code != http.StatusOK {
		if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
	}
	return recorder.Code, decoded
}

func TestRequireSessionAndRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	validator := newTestValidator(t, 0)

	router := gin.New()
	router.Use(validator.RequireSession(""), RequireRole("", "admin", "staff"))
	router.GET("/api/plans", func(contextGin *gin.Context) {
		if ClaimsFrom(contextGin, DefaultContextKey).UserID() != "user-123" {
			t.Errorf("claims missing from context")
		}
		contextGin.Status(http.StatusOK)
	})

	if status, _ := serve(t, router, mintToken(t, defaultTokenSpec())); status != http.StatusOK {
		t.Fatalf("expected 200 for staff token, got %d", status)
	}

	customer := defaultTokenSpec()
	customer.role = "customer"
	if status, body := serve(t, router, mintToken(t, customer)); status != http.StatusForbidden || body.Code != "forbidden" || body.Success {
		t.Fatalf("expected 403 for customer token, got %d %#v", status, body)
	}

	expired := defaultTokenSpec()
	expired.issuedAt = testNow.Add(-time.Hour)
	if status, body := serve(t, router, mintToken(t, expired)); status != http.StatusUnauthorized || body.Code != "token_expired" {
		t.Fatalf("expected 401 token_expired, got %d %#v", status, body)
	}

	if status, body := serve(t, router, ""); status != http.StatusUnauthorized || body.Code != "unauthorized" {
		t.Fatalf("expected 401 for missing header, got %d %#v", status, body)
	}
}

func TestRequireRoleWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequireRole("claims", "admin"))
	router.GET("/api/plans", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	if status, _ := serve(t, router, "ignored"); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 when no claims were stored, got %d", status)
	}
}

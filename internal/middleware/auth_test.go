package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/model"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		actor, ok := GetActorFromContext(r.Context())
		require.True(t, ok, "actor not in context")
		assert.Equal(t, model.Actor{ID: 42, Role: model.RoleCustomer}, actor)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	resCookies := w.Result().Cookies()
	require.NotEmpty(t, resCookies, "no cookies set by SetAuthCookie")

	r.AddCookie(resCookies[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.True(t, nextCalled, "next handler was not called")
}

func TestAuthMiddleware_BearerOperator(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 7)

	var got model.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetActorFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+m.Token(7))
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, model.Actor{ID: 7, Role: model.RoleOperator}, got)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "without token"},
		{name: "foreign signature", token: other.Token(42)},
		{name: "tampered id", token: "43." + m.Token(42)[3:]},
		{name: "malformed", token: "garbage"},
		{name: "non-positive id", token: m.Token(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.token != "" {
				r.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.token})
			}

			m.Middleware(next).ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
		})
	}
}

func TestRequireOperator(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 100)
	h := m.Middleware(RequireOperator(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		userID int64
		want   int
	}{
		{name: "operator", userID: 100, want: http.StatusNoContent},
		{name: "customer", userID: 1, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/admin/orders/x/status", nil)
			r.Header.Set("Authorization", "Bearer "+m.Token(tt.userID))

			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Result().StatusCode)
		})
	}
}

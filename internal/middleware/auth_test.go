package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func issueCookie(t *testing.T, m *AuthMiddleware, id uuid.UUID) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, id)
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}
	return cookies[0]
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	actorID := uuid.New()

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetActorIDFromContext(r.Context())
		if !ok {
			t.Fatalf("actor id not in context")
		}
		if id != actorID {
			t.Fatalf("actor id from context = %s, want %s", id, actorID)
		}
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(issueCookie(t, m, actorID))

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.Middleware(next).ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_RejectsForgedCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	cookie := issueCookie(t, m, uuid.New())

	_, signature, _ := strings.Cut(cookie.Value, ".")
	foreign := issueCookie(t, NewAuthMiddleware("other-secret"), uuid.New())

	tests := []struct {
		name  string
		value string
	}{
		{name: "swapped id", value: uuid.NewString() + "." + signature},
		{name: "foreign secret", value: foreign.Value},
		{name: "no signature", value: uuid.NewString()},
		{name: "garbage", value: "not-a-uuid." + signature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			r.AddCookie(&http.Cookie{Name: authCookieName, Value: tt.value})

			m.Middleware(next).ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

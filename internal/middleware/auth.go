// Package middleware содержит HTTP middleware биржи тестировщиков.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const actorIDKey contextKey = "actorID"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 365 * 24 * time.Hour
)

// AuthMiddleware проверяет подписанный cookie участника биржи.
// Один и тот же cookie выдаётся и тестировщику, и заказчику: роль
// определяется тем, чей профиль найдётся по идентификатору.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Пустой секрет заменяется
// случайным ключом, и cookie перестают быть действительными после рестарта.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("testermarket-secret")
		}
	}
	return &AuthMiddleware{secretKey: key}
}

// Middleware кладёт идентификатор участника в контекст запроса
// или отвечает 401.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actorID, ok := a.parse(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie выдаёт cookie для участника.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, actorID uuid.UUID) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    actorID.String() + "." + a.sign(actorID.String()),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parse(value string) (uuid.UUID, bool) {
	payload, signature, found := strings.Cut(value, ".")
	if !found {
		return uuid.Nil, false
	}
	if !hmac.Equal([]byte(signature), []byte(a.sign(payload))) {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(payload)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// GetActorIDFromContext извлекает идентификатор участника из контекста запроса.
func GetActorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorIDKey).(uuid.UUID)
	return id, ok
}


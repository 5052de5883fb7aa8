package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// CaptureSignatureHeader содержит HMAC-SHA256 тела уведомления о платеже.
const CaptureSignatureHeader = "X-Capture-Signature"

const maxCaptureBody = 1 << 20

// CaptureMiddleware принимает уведомления платёжного шлюза о списанных
// с карты средствах. Без секрета все уведомления отклоняются.
type CaptureMiddleware struct {
	secretKey []byte
}

// NewCaptureMiddleware создаёт CaptureMiddleware с секретом шлюза.
func NewCaptureMiddleware(secret string) *CaptureMiddleware {
	return &CaptureMiddleware{secretKey: []byte(secret)}
}

// Enabled сообщает, задан ли секрет шлюза.
func (c *CaptureMiddleware) Enabled() bool {
	return len(c.secretKey) > 0
}

// Sign возвращает подпись тела уведомления.
func (c *CaptureMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, c.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware пропускает дальше только подписанные уведомления.
func (c *CaptureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.Enabled() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCaptureBody))
		r.Body.Close()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		signature := r.Header.Get(CaptureSignatureHeader)
		if !hmac.Equal([]byte(signature), []byte(c.Sign(body))) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

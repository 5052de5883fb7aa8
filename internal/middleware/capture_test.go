package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCaptureMiddleware(t *testing.T) {
	const body = `{"owner_id":"0b6f5a0e-6b8f-4c39-9a57-0c0c5e5b1d11","amount":"250.00"}`
	capture := NewCaptureMiddleware("gateway-secret")
	foreign := NewCaptureMiddleware("other-secret")

	tests := []struct {
		name       string
		capture    *CaptureMiddleware
		signature  string
		wantStatus int
	}{
		{"signed by gateway", capture, capture.Sign([]byte(body)), http.StatusOK},
		{"no signature", capture, "", http.StatusUnauthorized},
		{"foreign secret", capture, foreign.Sign([]byte(body)), http.StatusUnauthorized},
		{"signature of another body", capture, capture.Sign([]byte(`{"amount":"1"}`)), http.StatusUnauthorized},
		{"no secret configured", NewCaptureMiddleware(""), NewCaptureMiddleware("").Sign([]byte(body)), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := tt.capture.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				got = string(b)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/payments/capture", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(CaptureSignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && got != body {
				t.Fatalf("body passed on = %q, want %q", got, body)
			}
		})
	}
}

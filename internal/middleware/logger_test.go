package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	h := Logger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks?x=1", nil))

	if logs.Len() != 1 {
		t.Fatalf("log entries = %d, want 1", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["method"] != http.MethodGet {
		t.Fatalf("method = %v, want GET", fields["method"])
	}
	if fields["uri"] != "/api/tasks?x=1" {
		t.Fatalf("uri = %v", fields["uri"])
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("status = %v, want %d", fields["status"], http.StatusTeapot)
	}
	if fields["size"] != int64(5) {
		t.Fatalf("size = %v, want 5", fields["size"])
	}
}

package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var sawLogger bool
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if !sawLogger {
		t.Fatalf("request logger was not attached to the context")
	}
	out := buf.String()
	for _, want := range []string{`"msg":"request started"`, `"msg":"request completed"`, `"status":418`, `"request_id":1`, `"path":"/api/health"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()

	handler := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	expectStatus(t, rec, http.StatusInternalServerError)
	if body := decodeBody[errorResponse](t, rec); body.ErrorCode != codeInternal {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	t.Parallel()

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _ = rec.Write([]byte("ok"))
	rec.WriteHeader(http.StatusInternalServerError)
	if rec.status != http.StatusOK {
		t.Fatalf("status = %d, want the first written status", rec.status)
	}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("expected Hijack to fail on a recorder")
	}
}

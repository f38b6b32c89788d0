package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// --- エラーレスポンス ---

func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusConflict, model.NewAlreadyCapturedTodayError())

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != model.ErrCodeAlreadyCapturedToday || body.Category != "validation" || body.Message == "" || body.Action == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if w.Code != http.StatusInternalServerError || body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
}

// --- ロギング ---

type statusCounter struct {
	codes []int
}

func (s *statusCounter) RecordHTTPStatus(code int) {
	s.codes = append(s.codes, code)
}

func TestLoggingMiddleware_LogsRequestAndRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	counter := &statusCounter{}

	reader := &mockSessionReader{user: &model.UserSession{ID: "user-123", AccessToken: "tok"}}
	inner := NewSessionMiddleware(reader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	handler := NewLoggingMiddleware(logger, counter)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/captures/pending/save", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "http_request" || entry["method"] != "POST" || entry["path"] != "/api/captures/pending/save" {
		t.Errorf("entry = %v", entry)
	}
	if entry["status"] != float64(409) || entry["level"] != "WARN" {
		t.Errorf("status/level = %v/%v", entry["status"], entry["level"])
	}
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want user-123", entry["user_id"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("expected duration_ms")
	}
	if len(counter.codes) != 1 || counter.codes[0] != http.StatusConflict {
		t.Errorf("recorded statuses = %v", counter.codes)
	}
}

func TestLoggingMiddleware_ImplicitOKAndNoUser(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := NewLoggingMiddleware(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]any
	json.Unmarshal(buf.Bytes(), &entry)
	if entry["status"] != float64(200) || entry["level"] != "INFO" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id should be omitted for anonymous requests")
	}
}

// --- リカバリー ---

func TestRecoveryMiddleware_ReturnsUnifiedError(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q", body.Code)
	}
}

// --- CORS ---

func TestCORSMiddleware_SetsHeaders(t *testing.T) {
	handler := NewCORSMiddleware("http://localhost:5173")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/selfies", nil))

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-CSRF-Token" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q", got)
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	handler := NewCORSMiddleware("http://localhost:5173")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/captures", nil))

	if w.Code != http.StatusNoContent || called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}
}

func TestCORSMiddleware_EmptyOriginIsPassThrough(t *testing.T) {
	handler := NewCORSMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want pass-through", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("no CORS headers expected")
	}
}

// --- セキュリティヘッダー ---

func TestSecurityHeadersMiddleware_AllowsCameraForSelf(t *testing.T) {
	handler := NewSecurityHeadersMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"Permissions-Policy":     "camera=(self), microphone=(), geolocation=()",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

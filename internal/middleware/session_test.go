package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// --- モック定義 ---

type mockSessionReader struct {
	user *model.UserSession
}

func (m *mockSessionReader) Current() *model.UserSession {
	return m.user
}

func TestSessionMiddleware_ActiveSession_InjectsUserID(t *testing.T) {
	reader := &mockSessionReader{user: &model.UserSession{ID: "user-123", AccessToken: "tok"}}

	var gotUserID string
	handler := NewSessionMiddleware(reader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/selfies", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want user-123", gotUserID)
	}
}

func TestSessionMiddleware_NoSession_Returns401(t *testing.T) {
	tests := []struct {
		name string
		user *model.UserSession
	}{
		{"signed out", nil},
		{"no access token", &model.UserSession{ID: "user-123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewSessionMiddleware(&mockSessionReader{user: tt.user})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/selfies", nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if called {
				t.Error("next handler should not be called")
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestUserIDFromContext(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for empty context")
	}
	got, err := UserIDFromContext(ContextWithUserID(context.Background(), "u1"))
	if err != nil || got != "u1" {
		t.Errorf("UserIDFromContext() = %q, %v", got, err)
	}
}

package auth

import (
	"errors"
	"testing"

	"github.com/hitoshi/dailyselfie/internal/model"
)

func TestParseCallback_ValidTokenAndState(t *testing.T) {
	raw := "http://localhost:8080/auth/google/callback#access_token=ya29.token&token_type=Bearer&expires_in=3599&state=abc123&scope=email"

	cb, err := ParseCallback(raw, "abc123")
	if err != nil {
		t.Fatalf("ParseCallback() error = %v", err)
	}
	if cb.AccessToken != "ya29.token" {
		t.Errorf("AccessToken = %q", cb.AccessToken)
	}
	if cb.ExpiresIn != 3599 {
		t.Errorf("ExpiresIn = %d, want 3599", cb.ExpiresIn)
	}
	if cb.CleanURL != "http://localhost:8080/auth/google/callback" {
		t.Errorf("CleanURL = %q, want fragment removed", cb.CleanURL)
	}
}

func TestParseCallback_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
		wantErr  error
	}{
		{"state mismatch", "http://x/#access_token=t&state=other", "abc", ErrInvalidCallback},
		{"missing state", "http://x/#access_token=t", "abc", ErrInvalidCallback},
		{"no expected state", "http://x/#access_token=t&state=abc", "", ErrInvalidCallback},
		{"missing token", "http://x/#state=abc", "abc", ErrInvalidCallback},
		{"no fragment", "http://x/", "abc", ErrInvalidCallback},
		{"provider error", "http://x/#error=access_denied&state=abc", "abc", model.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := ParseCallback(tt.raw, tt.expected)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseCallback() error = %v, want %v", err, tt.wantErr)
			}
			if cb != nil {
				t.Errorf("expected nil callback, got %+v", cb)
			}
		})
	}
}

func TestIsCallbackURL(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"http://localhost:8080/#access_token=t&state=s", true},
		{"http://localhost:8080/#error=access_denied", true},
		{"http://localhost:8080/#section-2", false},
		{"http://localhost:8080/", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsCallbackURL(tt.raw); got != tt.want {
			t.Errorf("IsCallbackURL(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestStripFragment(t *testing.T) {
	got := StripFragment("http://localhost:8080/app?x=1#access_token=secret")
	if got != "http://localhost:8080/app?x=1" {
		t.Errorf("StripFragment() = %q", got)
	}
}

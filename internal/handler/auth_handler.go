// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/hitoshi/dailyselfie/internal/auth"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/model"
)

// maxCallbackBodySize はコールバックURLを受け取るリクエストボディの上限。
const maxCallbackBodySize = 16 << 10

// SessionService は認証ハンドラーが必要とするセッションマネージャーのインターフェース。
type SessionService interface {
	State() auth.State
	Current() *model.UserSession
	SignIn(ctx context.Context) (string, error)
	CompleteCallback(ctx context.Context, rawURL string) (*model.UserSession, string, error)
	SignOut(ctx context.Context)
}

// AvatarSource はプロフィール画像を取得する。
type AvatarSource interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	sessions SessionService
	avatars  AvatarSource
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(sessions SessionService, avatars AvatarSource) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		avatars:  avatars,
	}
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	FirstName string `json:"firstName"`
	HasAvatar bool   `json:"hasAvatar"`
}

func toUserResponse(u *model.UserSession) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		FirstName: u.FirstName(),
		HasAvatar: u.Picture != "",
	}
}

type callbackRequest struct {
	URL string `json:"url"`
}

type callbackResponse struct {
	User     userResponse `json:"user"`
	CleanURL string       `json:"cleanUrl"`
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.sessions.SignIn(r.Context())
	if err != nil {
		if !errors.Is(err, model.ErrConfiguration) {
			slog.Error("failed to start sign in", slog.String("error", err.Error()))
		}
		handleServiceError(w, err)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// CallbackPage はOAuthのリダイレクト先ページを返す。
// トークンはURLフラグメントにありサーバーには届かないため、ページ側で履歴を置き換えてから
// フラグメント付きのURLをPOSTする。
// GET /auth/google/callback
func (h *AuthHandler) CallbackPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(callbackPageHTML))
}

// Callback はページから送られたコールバックURLを検証し、セッションを有効化する。
// POST /auth/google/callback
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallbackBodySize)).Decode(&req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError("JSONの解析に失敗しました"))
		return
	}
	if req.URL == "" {
		handleServiceError(w, model.NewInvalidRequestError("urlが空です"))
		return
	}

	user, cleanURL, err := h.sessions.CompleteCallback(r.Context(), req.URL)
	if err != nil {
		slog.Warn("oauth callback failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		User:     toUserResponse(user),
		CleanURL: cleanURL,
	})
}

// Logout はセッションを破棄する。サインアウトは失敗しない。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のサインインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h.sessions.State() == auth.StateConfigError {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewConfigurationError())
		return
	}

	user := h.sessions.Current()
	if !user.HasToken() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Avatar はプロフィール画像を中継する。
// 画像URLはプロバイダーから受け取った値なので、許可ホストへのHTTPSのみ取得する。
// GET /auth/me/avatar
func (h *AuthHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	user := h.sessions.Current()
	if !user.HasToken() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	if user.Picture == "" {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewAvatarUnavailableError())
		return
	}

	data, contentType, err := h.avatars.Fetch(r.Context(), user.Picture)
	if err != nil {
		slog.Warn("failed to fetch avatar",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewAvatarUnavailableError())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

const callbackPageHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>Signing in...</title>
</head>
<body>
<p id="status">サインインしています...</p>
<script>
(function () {
  var full = window.location.href;
  history.replaceState(null, "", window.location.pathname);
  var m = document.cookie.match(/(?:^|; )csrf_token=([^;]*)/);
  fetch("/auth/google/callback", {
    method: "POST",
    credentials: "same-origin",
    headers: {"Content-Type": "application/json", "X-CSRF-Token": m ? decodeURIComponent(m[1]) : ""},
    body: JSON.stringify({url: full})
  }).then(function (res) {
    if (res.ok) {
      window.location.replace("/");
      return;
    }
    document.getElementById("status").textContent = "サインインに失敗しました。もう一度お試しください。";
  });
})();
</script>
</body>
</html>
`

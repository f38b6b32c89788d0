// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// userIDHolderKey はロギングミドルウェアが後段で確定したユーザーIDを受け取るためのキー。
var userIDHolderKey = contextKey("user_id_holder")

type userIDHolder struct {
	mu sync.Mutex
	id string
}

func (h *userIDHolder) set(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.id = id
}

func (h *userIDHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func withUserIDHolder(ctx context.Context, h *userIDHolder) context.Context {
	return context.WithValue(ctx, userIDHolderKey, h)
}

// SessionReader は現在のセッションを返す。auth.Managerが実装する。
type SessionReader interface {
	Current() *model.UserSession
}

// NewSessionMiddleware はサインイン中のセッションがあるリクエストだけを通すミドルウェアを返す。
// このプロセスが持つセッションは1つだけなので、Cookieではなくセッションマネージャーの状態を見る。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
func NewSessionMiddleware(sessions SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := sessions.Current()
			if !user.HasToken() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if h, ok := r.Context().Value(userIDHolderKey).(*userIDHolder); ok {
				h.set(user.ID)
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, user.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

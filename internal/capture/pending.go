package capture

import (
	"context"
	"sync"

	"github.com/hitoshi/dailyselfie/internal/model"
)

// PendingStore はユーザーごとに確認待ちの撮影画像を最大1枚保持する。永続化はしない。
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]model.PendingCapture
}

// NewPendingStore はPendingStoreを生成する。
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]model.PendingCapture)}
}

// Put は確認待ちの撮影画像を設定する。既存のものは置き換えられる。
func (s *PendingStore) Put(userID string, p model.PendingCapture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = p
}

// Get は確認待ちの撮影画像を返す。
func (s *PendingStore) Get(userID string) (model.PendingCapture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	return p, ok
}

// Take は確認待ちの撮影画像を取り出して削除する。
func (s *PendingStore) Take(userID string) (model.PendingCapture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[userID]
	if ok {
		delete(s.pending, userID)
	}
	return p, ok
}

// Discard は確認待ちの撮影画像を破棄する。
func (s *PendingStore) Discard(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
}

// Clear はすべての確認待ち画像を破棄する。サインアウト時に使う。
func (s *PendingStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]model.PendingCapture)
}

// SessionChanged はサインアウト時に確認待ちの画像を破棄する。
func (s *PendingStore) SessionChanged(_ context.Context, user *model.UserSession) {
	if user == nil {
		s.Clear()
	}
}

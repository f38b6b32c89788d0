// Package auth はGoogle OAuthによるサインインとセッションのライフサイクルを管理する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/dailyselfie/internal/model"
	"github.com/hitoshi/dailyselfie/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// FetchUserInfo はアクセストークンでユーザー情報を取得する。
	FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error)
	// ValidateToken はアクセストークンがまだ有効かを確認する。
	ValidateToken(ctx context.Context, accessToken string) error
	// DisableAutoSelect はサインアウト時に自動再認証を無効化する。
	DisableAutoSelect(ctx context.Context, accessToken string) error
}

// TextSanitizer はプロバイダーから受け取った表示用テキストを無害化する。
type TextSanitizer interface {
	Sanitize(s string) string
}

// SessionObserver はセッションが変化したときに通知を受け取る。
// サインアウト時はuserにnilが渡される。
type SessionObserver interface {
	SessionChanged(ctx context.Context, user *model.UserSession)
}

// EventRecorder は認証イベントを記録する。metricsパッケージが実装する。
type EventRecorder interface {
	RecordAuthEvent(event string)
}

// State はセッションマネージャーの状態を表す。
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateUnauthenticated
	StateConfigError
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// ManagerConfig はセッションマネージャーの設定。
type ManagerConfig struct {
	ClientID    string
	APIKey      string
	RedirectURL string
}

// InitResult は起動時の初期化結果。
type InitResult struct {
	State State
	// CleanURL はコールバックURLからトークンを取り除いたURL。コールバックでなければ空。
	CleanURL string
	Err      error
}

// Manager はサインイン・サインアウト・OAuthコールバック・トークン再検証を担う。
// 有効なセッションはプロセス内で最大1つ。
//
// 状態遷移:
//
//	Uninitialized → Initializing → {Authenticated, Unauthenticated, ConfigError}
//	Authenticated → Unauthenticated（サインアウト）
type Manager struct {
	provider  OAuthProvider
	store     repository.SessionStore
	sanitizer TextSanitizer
	recorder  EventRecorder
	config    ManagerConfig

	mu        sync.RWMutex
	state     State
	user      *model.UserSession
	observers []SessionObserver

	initOnce   sync.Once
	initResult InitResult
}

// NewManager はManagerを生成する。sanitizerとrecorderはnilでもよい。
func NewManager(
	provider OAuthProvider,
	store repository.SessionStore,
	sanitizer TextSanitizer,
	recorder EventRecorder,
	config ManagerConfig,
) *Manager {
	return &Manager{
		provider:  provider,
		store:     store,
		sanitizer: sanitizer,
		recorder:  recorder,
		config:    config,
		state:     StateUninitialized,
	}
}

// Subscribe はセッション変化の通知先を登録する。Initializeより前に呼ぶこと。
func (m *Manager) Subscribe(o SessionObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// State は現在の状態を返す。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current は現在のセッションのコピーを返す。サインアウト状態ならnil。
func (m *Manager) Current() *model.UserSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// AccessToken は現在のアクセストークンを返す。
func (m *Manager) AccessToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.user.HasToken() {
		return "", false
	}
	return m.user.AccessToken, true
}

// Initialize は起動時に1回だけ実行される初期化処理。
// 2回目以降の呼び出しは何もせず、初回の結果を返す。
//
// 1. クライアントID・APIキーが無ければConfigErrorとしてネットワーク呼び出しを行わない
// 2. currentURLがOAuthコールバックならユーザー情報を取得してセッションを有効化する
// 3. それ以外で保存済みセッションがあればトークンを再検証し、無効なら黙って破棄する
func (m *Manager) Initialize(ctx context.Context, currentURL string) InitResult {
	m.initOnce.Do(func() {
		m.initResult = m.initialize(ctx, currentURL)
	})
	return m.initResult
}

func (m *Manager) initialize(ctx context.Context, currentURL string) InitResult {
	m.setState(StateInitializing)

	if m.config.ClientID == "" || m.config.APIKey == "" {
		m.setState(StateConfigError)
		slog.Error("google client credentials are not configured")
		m.record("config_error")
		return InitResult{
			State: StateConfigError,
			Err:   fmt.Errorf("%w: missing client id or api key", model.ErrConfiguration),
		}
	}

	result := InitResult{}

	if currentURL != "" && IsCallbackURL(currentURL) {
		result.CleanURL = StripFragment(currentURL)
		user, err := m.completeCallback(ctx, currentURL)
		switch {
		case err == nil:
			m.activate(ctx, user)
			result.State = StateAuthenticated
			return result
		case errors.Is(err, ErrInvalidCallback):
			// stateが一致しないコールバックは無視して保存済みセッションの確認に進む
			slog.Warn("ignoring oauth callback", slog.String("error", err.Error()))
		default:
			m.deactivate(ctx)
			result.State = StateUnauthenticated
			result.Err = err
			return result
		}
	}

	if user := m.restore(ctx); user != nil {
		m.activate(ctx, user)
		result.State = StateAuthenticated
		return result
	}

	m.deactivate(ctx)
	result.State = StateUnauthenticated
	return result
}

// CompleteCallback は初期化後に届いたOAuthコールバックを処理する。
// 成功時は有効化されたセッションとトークンを取り除いたURLを返す。
// stateが一致しない場合はセッションを変更しない。
func (m *Manager) CompleteCallback(ctx context.Context, rawURL string) (*model.UserSession, string, error) {
	if m.State() == StateConfigError {
		return nil, "", fmt.Errorf("%w: missing client id or api key", model.ErrConfiguration)
	}

	cleanURL := StripFragment(rawURL)
	user, err := m.completeCallback(ctx, rawURL)
	if err != nil {
		return nil, cleanURL, err
	}
	m.activate(ctx, user)
	return m.Current(), cleanURL, nil
}

// completeCallback はコールバックURLを検証し、ユーザー情報からセッションを組み立てて保存する。
func (m *Manager) completeCallback(ctx context.Context, rawURL string) (*model.UserSession, error) {
	expected, err := m.store.TakeState(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuth, err)
	}

	cb, err := ParseCallback(rawURL, expected)
	if err != nil {
		m.record("callback_rejected")
		// 不正なコールバックで正規のサインイン待ちを失効させない
		if expected != "" {
			if serr := m.store.SaveState(ctx, expected); serr != nil {
				slog.Warn("failed to restore oauth state", slog.String("error", serr.Error()))
			}
		}
		return nil, err
	}

	info, err := m.provider.FetchUserInfo(ctx, cb.AccessToken)
	if err != nil {
		slog.Error("failed to fetch user info", slog.String("error", err.Error()))
		m.record("userinfo_failed")
		return nil, fmt.Errorf("%w: %v", model.ErrAuth, err)
	}

	user := &model.UserSession{
		ID:          info.Subject,
		Email:       info.Email,
		Name:        m.sanitize(info.Name),
		Picture:     info.Picture,
		AccessToken: cb.AccessToken,
	}

	if err := m.store.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuth, err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	m.record("signed_in")
	return user, nil
}

// restore は保存済みセッションを読み込み、トークンが有効なら返す。
// 無効・破損している場合は保存内容を削除してnilを返す。
func (m *Manager) restore(ctx context.Context) *model.UserSession {
	user, err := m.store.LoadUser(ctx)
	if err != nil {
		slog.Warn("discarding unreadable saved session", slog.String("error", err.Error()))
		m.clearStored(ctx)
		return nil
	}
	if user == nil {
		return nil
	}
	if !user.HasToken() {
		m.clearStored(ctx)
		return nil
	}

	if err := m.provider.ValidateToken(ctx, user.AccessToken); err != nil {
		// トークンの期限切れは通常の動作
		slog.Info("saved session expired", slog.String("user_id", user.ID), slog.String("reason", err.Error()))
		m.record("session_expired")
		m.clearStored(ctx)
		return nil
	}

	m.record("session_restored")
	return user
}

// SignIn はOAuthリダイレクトを開始するための認証URLを返す。
// クライアントIDまたはリダイレクト先が未設定の場合はErrConfigurationを返しURLを生成しない。
func (m *Manager) SignIn(ctx context.Context) (string, error) {
	if m.config.ClientID == "" || m.config.RedirectURL == "" {
		return "", fmt.Errorf("%w: missing client id or redirect url", model.ErrConfiguration)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	if err := m.store.SaveState(ctx, state); err != nil {
		return "", fmt.Errorf("failed to persist oauth state: %w", err)
	}

	return m.provider.GetLoginURL(state), nil
}

// SignOut はセッションをメモリとストアから削除する。
// プロバイダーへの自動再認証無効化はベストエフォートで、失敗してもサインアウトは成功する。
func (m *Manager) SignOut(ctx context.Context) {
	m.mu.Lock()
	user := m.user
	m.user = nil
	if m.state == StateAuthenticated {
		m.state = StateUnauthenticated
	}
	m.mu.Unlock()

	m.clearStored(ctx)

	if user.HasToken() {
		if err := m.provider.DisableAutoSelect(ctx, user.AccessToken); err != nil {
			slog.Warn("failed to disable auto select", slog.String("error", err.Error()))
		}
		slog.Info("user signed out", slog.String("user_id", user.ID))
	}

	m.record("signed_out")
	m.notify(ctx, nil)
}

func (m *Manager) activate(ctx context.Context, user *model.UserSession) {
	m.mu.Lock()
	m.user = user
	m.state = StateAuthenticated
	m.mu.Unlock()
	m.notify(ctx, user)
}

func (m *Manager) deactivate(ctx context.Context) {
	m.mu.Lock()
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()
	m.notify(ctx, nil)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) notify(ctx context.Context, user *model.UserSession) {
	m.mu.RLock()
	observers := append([]SessionObserver(nil), m.observers...)
	m.mu.RUnlock()

	for _, o := range observers {
		var u *model.UserSession
		if user != nil {
			c := *user
			u = &c
		}
		o.SessionChanged(ctx, u)
	}
}

func (m *Manager) clearStored(ctx context.Context) {
	if err := m.store.ClearUser(ctx); err != nil {
		slog.Error("failed to clear saved session", slog.String("error", err.Error()))
	}
}

func (m *Manager) sanitize(s string) string {
	if m.sanitizer == nil {
		return s
	}
	return m.sanitizer.Sanitize(s)
}

func (m *Manager) record(event string) {
	if m.recorder != nil {
		m.recorder.RecordAuthEvent(event)
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

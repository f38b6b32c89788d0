package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultGoogleAuthURL      = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleUserInfoURL  = "https://www.googleapis.com/oauth2/v3/userinfo"
	defaultGoogleTokenInfoURL = "https://www.googleapis.com/oauth2/v1/tokeninfo"
	defaultGoogleRevokeURL    = "https://oauth2.googleapis.com/revoke"
)

// Google フォトへの追加とアルバム共有に必要なスコープ。
var photosScopes = []string{
	"https://www.googleapis.com/auth/photoslibrary.appendonly",
	"https://www.googleapis.com/auth/photoslibrary.sharing",
}

// 初回サインイン時にプロフィール取得のため追加するスコープ。
var identityScopes = []string{"openid", "email", "profile"}

// ErrTokenInvalid はトークン検証エンドポイントがトークンを拒否したことを示す。
var ErrTokenInvalid = errors.New("access token is no longer valid")

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID    string
	RedirectURL string
	HTTPClient  *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL      string
	UserInfoURL  string
	TokenInfoURL string
	RevokeURL    string
}

// GoogleOAuthProvider はGoogleのインプリシットグラントによる認証を提供する。
// アクセストークンはリダイレクト先URLのフラグメントで受け取るため、トークン交換は行わない。
type GoogleOAuthProvider struct {
	config GoogleOAuthConfig
	client *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.TokenInfoURL == "" {
		config.TokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleOAuthProvider{config: config, client: client}
}

// GetLoginURL はインプリシットグラントの認証URLを生成する。
// スコープにはGoogle フォトの追加・共有とopenid, email, profileを含む。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	scopes := append(append([]string{}, photosScopes...), identityScopes...)
	params := url.Values{
		"client_id":              {p.config.ClientID},
		"redirect_uri":           {p.config.RedirectURL},
		"response_type":          {"token"},
		"scope":                  {strings.Join(scopes, " ")},
		"include_granted_scopes": {"true"},
		"state":                  {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo googleUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &OAuthUserInfo{
		Subject: userInfo.Sub,
		Email:   userInfo.Email,
		Name:    userInfo.Name,
		Picture: userInfo.Picture,
	}, nil
}

// ValidateToken はトークン検証エンドポイントでアクセストークンの有効性を確認する。
// 2xxなら有効としてnilを返し、それ以外のステータスではErrTokenInvalidを返す。
func (p *GoogleOAuthProvider) ValidateToken(ctx context.Context, accessToken string) error {
	u, err := url.Parse(p.config.TokenInfoURL)
	if err != nil {
		return fmt.Errorf("invalid token info url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create token info request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("token info request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrTokenInvalid, resp.StatusCode)
	}
	return nil
}

// DisableAutoSelect はサインアウト時にトークンを失効させ、自動再認証を防ぐ。
// 呼び出し元はベストエフォートとして扱い、失敗してもサインアウトを継続する。
func (p *GoogleOAuthProvider) DisableAutoSelect(ctx context.Context, accessToken string) error {
	data := url.Values{"token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke failed with status %d", resp.StatusCode)
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)

// Package security はアプリケーションのセキュリティ機能を提供する。
// プロバイダーから受け取ったURLやテキストは信頼せず、このパッケージを通して扱う。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrBlockedURL は取得が許可されていないURLを表す。
	ErrBlockedURL = errors.New("blocked url")
	// ErrNotImage は画像以外のレスポンスを表す。
	ErrNotImage = errors.New("response is not an image")
	// ErrTooLarge はサイズ上限を超えたレスポンスを表す。
	ErrTooLarge = errors.New("response too large")
)

// DefaultAvatarHosts はプロフィール画像の取得を許可するホスト（サフィックス一致）。
var DefaultAvatarHosts = []string{"googleusercontent.com"}

// blockedNetworks は取得を拒否するネットワーク範囲。
// safeurlはDNS解決後のIPアドレスも検証するので、ここではIPリテラルの事前チェックにのみ使う。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // メタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// AvatarFetcher はプロフィール画像をSSRF対策付きのクライアントで取得する。
type AvatarFetcher struct {
	client       *http.Client
	allowedHosts []string
	maxSize      int64
}

// NewAvatarFetcher はAvatarFetcherを生成する。
// allowedHostsが空の場合はDefaultAvatarHostsを使う。
func NewAvatarFetcher(timeout time.Duration, maxSize int64, allowedHosts []string) *AvatarFetcher {
	if len(allowedHosts) == 0 {
		allowedHosts = DefaultAvatarHosts
	}
	return &AvatarFetcher{
		client:       NewSafeClient(timeout),
		allowedHosts: allowedHosts,
		maxSize:      maxSize,
	}
}

// NewSafeClient はプライベートIP・ループバック・リンクローカルへの接続を拒否するHTTPクライアントを生成する。
// 接続時にDNS解決後のIPアドレスを検証するため、DNSリバインディングにも対応する。
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(config).Client
}

// Fetch は画像を取得し、バイト列とContent-Typeを返す。
func (f *AvatarFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := ValidateAvatarURL(rawURL, f.allowedHosts); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch avatar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("avatar returned status %d", resp.StatusCode)
	}
	return readImage(resp, f.maxSize)
}

// readImage はレスポンスが画像であることを確認し、maxSizeまで読み取る。
func readImage(resp *http.Response, maxSize int64) ([]byte, string, error) {
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read avatar: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrTooLarge
	}
	return data, contentType, nil
}

// ValidateAvatarURL はDNS解決を伴わない静的な検証を行う。
// httpsのみ許可し、ホストはallowedHostsのいずれかに一致（またはそのサブドメイン）する必要がある。
func ValidateAvatarURL(rawURL string, allowedHosts []string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty url", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: disallowed scheme %q", ErrBlockedURL, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked ip %s", ErrBlockedURL, ip)
		}
		return fmt.Errorf("%w: ip literal host", ErrBlockedURL)
	}
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("%w: disallowed port %s", ErrBlockedURL, port)
	}

	for _, allowed := range allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %s is not allowed", ErrBlockedURL, host)
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

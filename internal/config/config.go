// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ストアの種類。
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
//
// Googleのクライアント設定は必須ではない。未設定の場合は起動後に
// セッションマネージャーが設定エラー状態になり、画面にその旨を表示する。
type Config struct {
	// OAuth
	GoogleClientID    string
	GoogleAPIKey      string
	GoogleRedirectURL string

	// Server
	ServerPort string
	BaseURL    string

	// Storage
	DataDir      string
	StoreBackend string
	DatabaseURL  string
	CacheSizeMB  int

	// Outbound HTTP
	HTTPTimeout   time.Duration
	AvatarMaxSize int64

	// Calendar
	Location  *time.Location
	WeekStart time.Weekday

	// Limits
	UploadRatePerMin int
	MaxFrameSize     int64

	// Logging
	LogLevel string

	// Cookie / CORS
	CookieSecure      bool
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 値の組み合わせが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort), "/")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", cfg.BaseURL+"/auth/google/callback")

	cfg.DataDir = getEnvString("DATA_DIR", "./data")
	cfg.StoreBackend = strings.ToLower(getEnvString("STORE_BACKEND", StoreFile))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.CacheSizeMB = getEnvInt("CACHE_SIZE_MB", 32)

	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 30*time.Second)
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 1<<20)

	cfg.UploadRatePerMin = getEnvInt("UPLOAD_RATE_PER_MIN", 6)
	cfg.MaxFrameSize = getEnvInt64("MAX_FRAME_SIZE", 8<<20)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	var errs []string

	switch cfg.StoreBackend {
	case StoreFile, StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown STORE_BACKEND %q (want file, memory or postgres)", cfg.StoreBackend))
	}

	loc, err := loadLocation(os.Getenv("TIMEZONE"))
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Location = loc

	weekStart, err := parseWeekday(getEnvString("WEEK_START", "sunday"))
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.WeekStart = weekStart

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// GoogleConfigured はOAuthに必要なクライアント設定がそろっているかを返す。
func (c *Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleAPIKey != ""
}

// loadLocation はタイムゾーン名を読み込む。空の場合はローカルタイムゾーンを使う。
func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local, fmt.Errorf("invalid TIMEZONE %q: %v", name, err)
	}
	return loc, nil
}

// parseWeekday は曜日名（sunday, mon など）または0〜6の数値を解釈する。
func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return time.Sunday, fmt.Errorf("invalid WEEK_START %q", s)
		}
		return time.Weekday(n), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid WEEK_START %q", s)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

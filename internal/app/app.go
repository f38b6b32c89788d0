package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/dailyselfie/internal/auth"
	"github.com/hitoshi/dailyselfie/internal/capture"
	"github.com/hitoshi/dailyselfie/internal/config"
	"github.com/hitoshi/dailyselfie/internal/database"
	"github.com/hitoshi/dailyselfie/internal/handler"
	"github.com/hitoshi/dailyselfie/internal/kvstore"
	"github.com/hitoshi/dailyselfie/internal/ledger"
	"github.com/hitoshi/dailyselfie/internal/logger"
	"github.com/hitoshi/dailyselfie/internal/metrics"
	"github.com/hitoshi/dailyselfie/internal/middleware"
	"github.com/hitoshi/dailyselfie/internal/photos"
	"github.com/hitoshi/dailyselfie/internal/repository"
	"github.com/hitoshi/dailyselfie/internal/security"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("store", cfg.StoreBackend),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// Components はserveモードで組み立てた依存関係をまとめたもの。
type Components struct {
	Router   http.Handler
	Sessions *auth.Manager
	Ledger   *ledger.Ledger

	closers []func()
}

// Close は組み立て時に確保したリソースを解放する。
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// Build は設定から全依存関係をワイヤリングする。
// ストアを開いてセッションを初期化し、ルーターを構築する。
func Build(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*Components, error) {
	c := &Components{}

	// 1. ストアの初期化
	store, db, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		c.closers = append(c.closers, closeStore)
	}
	var checker handler.HealthChecker
	if db != nil {
		checker = db
	}
	if cfg.CacheSizeMB > 0 {
		cached := kvstore.NewCachedStore(store, cfg.CacheSizeMB<<20, 0)
		slog.Info("store cache enabled",
			slog.Int("size_mb", cfg.CacheSizeMB),
			slog.Int("max_entry_bytes", cached.MaxEntrySize()),
		)
		store = cached
	}
	records := repository.NewKVRecordStore(store)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. 認証
	outbound := &http.Client{Timeout: cfg.HTTPTimeout}
	provider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:    cfg.GoogleClientID,
		RedirectURL: cfg.GoogleRedirectURL,
		HTTPClient:  outbound,
	})
	sessions := auth.NewManager(provider, records, security.NewProfileSanitizer(), collector, auth.ManagerConfig{
		ClientID:    cfg.GoogleClientID,
		APIKey:      cfg.GoogleAPIKey,
		RedirectURL: cfg.GoogleRedirectURL,
	})

	// 4. 記録台帳と撮影
	photoClient := photos.NewClient(outbound, slog.Default())
	selfies := ledger.New(records, sessions, photoClient, ledger.Options{
		Location:  cfg.Location,
		WeekStart: cfg.WeekStart,
		Metrics:   collector,
	})
	pending := capture.NewPendingStore()
	camera := capture.NewFrameCamera()

	// サインイン・サインアウトに合わせて記録一覧と確認待ち画像を切り替える
	sessions.Subscribe(selfies)
	sessions.Subscribe(pending)

	// 5. セッションの初期化（保存済みトークンの再検証）
	result := sessions.Initialize(ctx, "")
	if result.Err != nil {
		// 設定不足は起動を止めず、画面で案内する
		slog.Warn("session initialization incomplete",
			slog.String("state", result.State.String()),
			slog.String("error", result.Err.Error()),
		)
	}

	// 6. ルーターの構築
	uploadLimiter := middleware.NewRateLimiter("upload", middleware.UploadRateLimiterConfig(cfg.UploadRatePerMin))
	c.closers = append(c.closers, uploadLimiter.Stop)

	c.Router = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure},
		UploadLimiter:     uploadLimiter,

		Sessions: sessions,
		Avatars:  security.NewAvatarFetcher(cfg.HTTPTimeout, cfg.AvatarMaxSize, security.DefaultAvatarHosts),

		Ledger:       selfies,
		Camera:       camera,
		Flow:         capture.NewFlow(camera, capture.DefaultConstraints),
		Pending:      pending,
		MaxFrameSize: cfg.MaxFrameSize,

		HealthChecker:  checker,
		MetricsHandler: metrics.Handler(reg),
	})
	c.Sessions = sessions
	c.Ledger = selfies

	return c, nil
}

// openStore は設定に応じたキーバリューストアを開く。
// PostgreSQLを使う場合はマイグレーションを適用し、*sql.DBも返す。
// 戻り値の関数は解放が必要なリソースが無い場合nilになる。
func openStore(ctx context.Context, cfg *config.Config) (kvstore.Store, *sql.DB, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		slog.Warn("using in-memory store; selfies will be lost on restart")
		return kvstore.NewMemoryStore(), nil, nil, nil

	case config.StorePostgres:
		if _, err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("database connection established")
		return kvstore.NewPostgresStore(db), db, func() { db.Close() }, nil

	default:
		fs, err := kvstore.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open data dir: %w", err)
		}
		return fs, nil, func() {
			if err := fs.Close(); err != nil {
				slog.Warn("failed to close file store", slog.String("error", err.Error()))
			}
		}, nil
	}
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := Build(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer components.Close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      components.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second, // アップロードは外部APIを待つ
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQL以外のストアではスキーマが無いため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.StorePostgres {
		slog.Info("store backend has no schema; nothing to migrate", slog.String("store", cfg.StoreBackend))
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

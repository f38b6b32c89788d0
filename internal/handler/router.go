package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/dailyselfie/internal/middleware"
)

// HealthChecker はストレージの疎通確認を行う。PostgreSQL利用時の*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	UploadLimiter     *middleware.RateLimiter

	// 認証
	Sessions SessionService
	Avatars  AvatarSource

	// 記録・撮影
	Ledger       SelfieLedger
	Camera       FrameSink
	Flow         CaptureFlow
	Pending      PendingCaptures
	MaxFrameSize int64

	// 運用
	HealthChecker  HealthChecker // nilの場合はストレージの確認を省略する
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → (Session → UploadRateLimit)
//
// /health と /metrics はCSRFの対象外。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.Sessions, deps.Avatars)
	selfieHandler := NewSelfieHandler(deps.Ledger)
	captureHandler := NewCaptureHandler(deps.Camera, deps.Flow, deps.Pending, deps.Ledger, deps.MaxFrameSize)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.Sessions, deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// --- 認証不要のルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
			r.Get("/google/login", authHandler.Login)
			r.Get("/google/callback", authHandler.CallbackPage)
			r.Post("/google/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Get("/me/avatar", authHandler.Avatar)
		})

		// --- サインインが必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Sessions))

			r.Get("/api/stats", selfieHandler.Stats)

			r.Route("/api/selfies", func(r chi.Router) {
				r.Get("/", selfieHandler.ListSelfies)
				r.Get("/today", selfieHandler.Today)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/photo", selfieHandler.Photo)
					// POST /api/selfies/{id}/upload - アップロード専用レート制限を追加
					if deps.UploadLimiter != nil {
						r.With(deps.UploadLimiter.Middleware()).Post("/upload", selfieHandler.Upload)
					} else {
						r.Post("/upload", selfieHandler.Upload)
					}
				})
			})

			r.Route("/api/captures", func(r chi.Router) {
				r.Post("/", captureHandler.Capture)
				r.Get("/pending", captureHandler.Pending)
				r.Post("/pending/save", captureHandler.Save)
				r.Delete("/pending", captureHandler.Discard)
			})
		})
	})

	return r
}

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// healthHandler はプロセスとストレージの状態を返す。
// 認証設定の不備はサービスの稼働とは無関係なので200のまま状態名で返す。
func healthHandler(sessions SessionService, checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{
					Status:  "unavailable",
					Session: sessions.State().String(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Session: sessions.State().String(),
		})
	}
}

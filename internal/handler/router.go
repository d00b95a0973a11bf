package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/miniauth/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For / X-Real-IPからクライアントIPを取る。
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	// DevAuthService がnilでない場合のみ /dev/login を公開する。
	DevAuthService AuthServiceInterface
	// MockProvider がnilでない場合のみ /mock/wx/jscode2session を公開する。
	MockProvider http.Handler

	// ユーザー
	UserService UserServiceInterface

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → RealIP（TrustProxyHeaders時のみ） → Logging
//
// 認証が必要なルートにはさらに Auth → RateLimit(General) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)
	requireAuth := middleware.NewAuthMiddleware(deps.Authenticator)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)

	// クレデンシャルのみで判定するルート
	r.Get("/verify", authHandler.Verify)
	r.Post("/session-extend", authHandler.ExtendSession)

	if deps.DevAuthService != nil {
		devHandler := NewAuthHandler(deps.DevAuthService)
		r.With(deps.RateLimiter.LoginMiddleware()).Post("/dev/login", devHandler.Login)
	}
	if deps.MockProvider != nil {
		r.Method(http.MethodGet, "/mock/wx/jscode2session", deps.MockProvider)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/profile", userHandler.GetProfile)
		r.Patch("/profile", userHandler.UpdateProfile)
		r.Post("/logout", authHandler.Logout)
	})

	return r
}

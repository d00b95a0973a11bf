// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/miniauth/internal/auth"
	"github.com/hitoshi/miniauth/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// principalContextKey は認証済み主体を格納するためのキー。
	principalContextKey = contextKey("principal")
	// tokenContextKey は提示されたベアラートークンを格納するためのキー。
	tokenContextKey = contextKey("token")
)

// Authenticator はトークンから認証済み主体を解決するインターフェース。
// auth.Guardが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Principal, error)
}

// NewAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証するミドルウェアを返す。
// 成功時はセッションを延長し、主体とユーザーIDをリクエストコンテキストに注入する。
// 失敗時はエラーコードに応じて401/404/500を返す。
func NewAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				WriteAPIError(w, model.NewUnauthenticatedError())
				return
			}

			principal, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					apiErr = model.NewInternalError(err)
				}
				if apiErr.Code == model.ErrCodeInternal {
					slog.Error("failed to authenticate request",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
				WriteAPIError(w, apiErr)
				return
			}

			ctx := ContextWithPrincipal(r.Context(), principal)
			ctx = ContextWithToken(ctx, token)
			if setter, ok := w.(userIDSetter); ok {
				setter.setUserID(principal.User.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return principal, ok && principal != nil
}

// TokenFromContext は認証に使われたトークンを取得する。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// ContextWithPrincipal はコンテキストに主体とそのユーザーIDを注入する。
func ContextWithPrincipal(ctx context.Context, principal *auth.Principal) context.Context {
	ctx = context.WithValue(ctx, principalContextKey, principal)
	if principal.User != nil {
		ctx = ContextWithUserID(ctx, principal.User.ID)
	}
	return ctx
}

// ContextWithToken はコンテキストに認証に使われたトークンを注入する。
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey, token)
}

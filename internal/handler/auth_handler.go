// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/miniauth/internal/auth"
	"github.com/hitoshi/miniauth/internal/middleware"
	"github.com/hitoshi/miniauth/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, code string) (*auth.LoginResult, error)
	Verify(token string) bool
	ExtendSession(ctx context.Context, token string) (*model.Session, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler はログインとセッション管理のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type loginRequest struct {
	Code string `json:"code"`
}

type loginResponse struct {
	Token string         `json:"token"`
	User  model.UserView `json:"user"`
}

type verifyResponse struct {
	IsValid bool `json:"isValid"`
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Login はログインコードを交換してトークンとユーザーを返す。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Code)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token: result.Token,
		User:  model.NewUserView(result.User),
	})
}

// Verify はAuthorizationヘッダーのクレデンシャルのみを検証する。
// セッションの有無は確認しない。
// GET /verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" || !h.service.Verify(token) {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError())
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{IsValid: true})
}

// ExtendSession はセッションの有効期限を現在時刻から延長する。
// POST /session-extend
func (h *AuthHandler) ExtendSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.ExtendSession(r.Context(), r.Header.Get("Authorization")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Success: true,
		Message: "Session extended successfully",
	})
}

// Logout は現在のセッションを破棄する。認証ミドルウェアの後に配置する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if token == "" {
		middleware.WriteAPIError(w, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		Success: true,
		Message: "Logged out successfully",
	})
}
